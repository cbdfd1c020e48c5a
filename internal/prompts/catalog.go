package prompts

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

const (
	examplesPath      = "examples.yaml"
	languagesDir      = "languages"
	imageOnlyTemplate = "image_only.md"
	imageTextTemplate = "image_text.md"
)

type languagePack struct {
	Name         string                       `yaml:"name"`
	Code         string                       `yaml:"code"`
	SystemPrompt string                       `yaml:"system_prompt"`
	Tasks        map[domain.TaskNumber]string `yaml:"tasks"`
}

type exampleBank struct {
	Tasks map[domain.TaskNumber]struct {
		Question string `yaml:"question"`
		Response string `yaml:"response"`
	} `yaml:"tasks"`
}

// Catalog is the immutable set of task specs for every language pack.
// It is built once at startup and shared read-only.
type Catalog struct {
	languages []domain.Language
	specs     map[string]domain.TaskSpec
}

// Catalog reads every embedded language pack (with overrides applied) and the
// shared one-shot examples, and builds the task specs.
func (l *Loader) Catalog() (*Catalog, error) {
	raw, err := l.LoadRaw(examplesPath)
	if err != nil {
		return nil, fmt.Errorf("load examples: %w", err)
	}
	var bank exampleBank
	if err := yaml.Unmarshal(raw, &bank); err != nil {
		return nil, fmt.Errorf("parse examples: %w", err)
	}

	entries, err := fs.ReadDir(embeddedFS, languagesDir)
	if err != nil {
		return nil, err
	}

	c := &Catalog{specs: make(map[string]domain.TaskSpec)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := path.Join(languagesDir, entry.Name())
		raw, err := l.LoadRaw(path.Join(dir, "language.yaml"))
		if err != nil {
			return nil, fmt.Errorf("load language pack %s: %w", entry.Name(), err)
		}
		var pack languagePack
		if err := yaml.Unmarshal(raw, &pack); err != nil {
			return nil, fmt.Errorf("parse language pack %s: %w", entry.Name(), err)
		}
		if pack.Name == "" || pack.Code == "" {
			return nil, fmt.Errorf("language pack %s: name and code are required", entry.Name())
		}

		lang := domain.Language{Name: pack.Name, Code: pack.Code}
		for _, task := range domain.AllTasks() {
			desc, ok := pack.Tasks[task]
			if !ok {
				return nil, fmt.Errorf("language pack %s: missing task %d", pack.Name, task)
			}
			ex, ok := bank.Tasks[task]
			if !ok {
				return nil, fmt.Errorf("examples: missing task %d", task)
			}
			spec := domain.TaskSpec{
				Language:          lang,
				Task:              task,
				Description:       desc,
				Example:           domain.Example{Question: ex.Question, Response: ex.Response},
				SystemPrompt:      pack.SystemPrompt,
				ImageOnlyTemplate: path.Join(dir, imageOnlyTemplate),
				ImageTextTemplate: path.Join(dir, imageTextTemplate),
			}
			c.specs[spec.Key()] = spec
		}
		c.languages = append(c.languages, lang)
	}

	sort.Slice(c.languages, func(i, j int) bool { return c.languages[i].Name < c.languages[j].Name })
	return c, nil
}

// Languages returns all languages, sorted by name
func (c *Catalog) Languages() []domain.Language {
	return append([]domain.Language(nil), c.languages...)
}

// Language resolves a language by name or code, case-insensitively
func (c *Catalog) Language(nameOrCode string) (domain.Language, error) {
	for _, lang := range c.languages {
		if strings.EqualFold(lang.Name, nameOrCode) || strings.EqualFold(lang.Code, nameOrCode) {
			return lang, nil
		}
	}
	return domain.Language{}, fmt.Errorf("%w: %q", domain.ErrUnknownLanguage, nameOrCode)
}

// Spec returns the task spec for a (language, task) pair
func (c *Catalog) Spec(lang domain.Language, task domain.TaskNumber) (domain.TaskSpec, error) {
	if !task.Valid() {
		return domain.TaskSpec{}, fmt.Errorf("%w: %d", domain.ErrUnknownTask, task)
	}
	spec, ok := c.specs[domain.TaskSpec{Language: lang, Task: task}.Key()]
	if !ok {
		return domain.TaskSpec{}, fmt.Errorf("%w: %s", domain.ErrUnknownLanguage, lang.Name)
	}
	return spec, nil
}
