// Package notify tells operators when a run or scheduled run has finished.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
)

// Level is the severity of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// maxDetails caps the per-pair lines carried by one notification
const maxDetails = 10

// Stat is one labelled number, e.g. "resolved" = 812
type Stat struct {
	Label string
	Value int
}

// Notification describes a finished run
type Notification struct {
	Title   string
	Message string
	Level   Level
	Stats   []Stat
	Details []string // one line per pair that needs attention
}

// DetailLines returns Details capped at maxDetails, with a trailing count
// of what was left out
func (n Notification) DetailLines() []string {
	if len(n.Details) <= maxDetails {
		return n.Details
	}
	lines := append([]string{}, n.Details[:maxDetails]...)
	return append(lines, fmt.Sprintf("... and %d more", len(n.Details)-maxDetails))
}

// Notifier delivers notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Fanout sends to several notifiers and joins their errors
type Fanout []Notifier

// Send delivers n to every notifier, even after one fails
func (f Fanout) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards notifications
type Noop struct{}

func (Noop) Send(context.Context, Notification) error { return nil }

// FromConfig builds the notifiers enabled in cfg
func FromConfig(cfg config.NotificationsConfig) Notifier {
	var all Fanout
	if cfg.Desktop {
		all = append(all, NewDesktop())
	}
	if cfg.SlackWebhook != "" {
		all = append(all, NewSlack(cfg.SlackWebhook))
	}
	if len(all) == 0 {
		return Noop{}
	}
	return all
}
