package notify

import (
	"os/exec"
	"runtime"
)

// DesktopNotifier sends desktop notifications
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return exec.Command("osascript", "-e", macScript(n)).Run()
	case "linux":
		return exec.Command("notify-send", linuxArgs(n)...).Run()
	default:
		return nil // Unsupported
	}
}

// macScript builds the osascript line; the pipeline shows as a subtitle
func macScript(n Notification) string {
	script := `display notification "` + n.Message + `" with title "` + n.Title + `"`
	if n.PipelineID != "" {
		script += ` subtitle "` + n.PipelineID + `"`
	}
	return script
}

// linuxArgs builds the notify-send invocation; the pipeline joins the
// title so it survives single-line notification daemons
func linuxArgs(n Notification) []string {
	title := n.Title
	if n.PipelineID != "" {
		title += " (" + n.PipelineID + ")"
	}
	return []string{"-i", IconForType(n.Type), title, n.Message}
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
