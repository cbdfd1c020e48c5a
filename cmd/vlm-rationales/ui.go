package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

type ui struct {
	title func(a ...interface{}) string
	ok    func(a ...interface{}) string
	info  func(a ...interface{}) string
	warn  func(a ...interface{}) string
	err   func(a ...interface{}) string
	dim   func(a ...interface{}) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// withSpinner shows msg while fn runs
func withSpinner(msg string, fn func() error) error {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " " + msg
	spin.Start()
	err := fn()
	spin.Stop()
	return err
}

// barProgress draws one progress bar per (language, task) pair
type barProgress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
	ui  *ui
}

func newBarProgress(u *ui) *barProgress {
	return &barProgress{ui: u}
}

func (p *barProgress) Start(spec domain.TaskSpec, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(fmt.Sprintf("%-14s", spec.Key())),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}

func (p *barProgress) Advance(spec domain.TaskSpec, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *barProgress) Finish(spec domain.TaskSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
