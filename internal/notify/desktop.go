package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Desktop shows notifications through osascript (macOS) or notify-send (Linux).
// Other platforms are silently skipped.
type Desktop struct {
	goos string
	run  func(ctx context.Context, name string, args ...string) error
}

// NewDesktop creates a desktop notifier for the current platform
func NewDesktop() *Desktop {
	return &Desktop{
		goos: runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Send shows n; the body is the message followed by the stats
func (d *Desktop) Send(ctx context.Context, n Notification) error {
	body := n.Message
	if s := statLine(n.Stats); s != "" {
		body += "\n" + s
	}

	switch d.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s" subtitle "%s"`,
			escapeAppleScript(body), escapeAppleScript(n.Title), n.Level)
		return d.run(ctx, "osascript", "-e", script)
	case "linux":
		return d.run(ctx, "notify-send",
			"--app-name", "vlm-rationales",
			"--urgency", urgency(n.Level),
			"--icon", icon(n.Level),
			n.Title, body)
	default:
		return nil
	}
}

func statLine(stats []Stat) string {
	parts := make([]string, 0, len(stats))
	for _, s := range stats {
		parts = append(parts, fmt.Sprintf("%s %d", s.Label, s.Value))
	}
	return strings.Join(parts, ", ")
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func urgency(l Level) string {
	if l == LevelError {
		return "critical"
	}
	return "normal"
}

func icon(l Level) string {
	switch l {
	case LevelSuccess:
		return "dialog-positive"
	case LevelWarning:
		return "dialog-warning"
	case LevelError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
