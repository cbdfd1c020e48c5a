package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinTask and MaxTask bound the fixed task domain
const (
	MinTask = 1
	MaxTask = 8

	// FirstTextPairedTask is the first task that needs reference text
	FirstTextPairedTask = 6
)

var (
	ErrUnknownTask     = errors.New("unknown task")
	ErrUnknownLanguage = errors.New("unknown language")
)

// TaskNumber identifies one of the eight analysis tasks
type TaskNumber int

// ParseTaskNumber parses "3" into TaskNumber(3), rejecting anything outside 1..8
func ParseTaskNumber(s string) (TaskNumber, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTask, s)
	}
	t := TaskNumber(n)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d (expected %d..%d)", ErrUnknownTask, n, MinTask, MaxTask)
	}
	return t, nil
}

// Valid reports whether the task lies in the fixed domain
func (t TaskNumber) Valid() bool {
	return t >= MinTask && t <= MaxTask
}

// IsTextPaired returns true for tasks that analyse an image together with its reference text
func (t TaskNumber) IsTextPaired() bool {
	return t >= FirstTextPairedTask
}

// AllTasks returns 1..8 in order
func AllTasks() []TaskNumber {
	tasks := make([]TaskNumber, 0, MaxTask)
	for t := TaskNumber(MinTask); t <= MaxTask; t++ {
		tasks = append(tasks, t)
	}
	return tasks
}

// Language is one output language of the corpus
type Language struct {
	Name string // e.g. "English"
	Code string // e.g. "En", used in artifact names
}

func (l Language) String() string {
	return l.Name
}

// Example is the fixed one-shot demonstration for a task
type Example struct {
	Question string
	Response string
}

// TaskSpec identifies a (language, task) pair together with its static prompt material.
// It is built once at startup and never mutated.
type TaskSpec struct {
	Language          Language
	Task              TaskNumber
	Description       string
	Example           Example
	SystemPrompt      string
	ImageOnlyTemplate string // template name, resolved by the prompt loader
	ImageTextTemplate string
}

// IsTextPairedTask mirrors Task.IsTextPaired
func (s TaskSpec) IsTextPairedTask() bool {
	return s.Task.IsTextPaired()
}

// Key returns "En/task3"
func (s TaskSpec) Key() string {
	return fmt.Sprintf("%s/task%d", s.Language.Code, s.Task)
}
