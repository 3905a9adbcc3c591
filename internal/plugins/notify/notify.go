package notify

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/ye-linghua/linghua/internal/plugins"
)

// Backend delivers one desktop notification.
type Backend func(ctx context.Context, title, message string) error

// Plugin lets the model raise desktop notifications through an in-text
// tag. The delivery mechanism depends on the platform: notify-send on
// Linux, osascript on macOS, a PowerShell toast on Windows.
type Plugin struct {
	meta    plugins.Metadata
	logger  *log.Logger
	backend Backend
}

// New creates the notification plugin with the platform backend.
func New(logger *log.Logger) *Plugin {
	return &Plugin{
		meta: plugins.Metadata{
			ID:          "notification",
			Name:        "Notification Plugin",
			Version:     "1.0.0",
			Description: "Desktop notifications",
			Type:        plugins.TypeGo,
			Enabled:     true,
		},
		logger:  logger,
		backend: platformBackend(runtime.GOOS),
	}
}

func (p *Plugin) Metadata() *plugins.Metadata { return &p.meta }

func (p *Plugin) Initialise(ctx context.Context) error { return nil }
func (p *Plugin) Shutdown(ctx context.Context) error   { return nil }

// SetBackend overrides the delivery mechanism, mainly for tests.
func (p *Plugin) SetBackend(b Backend) { p.backend = b }

// Deliver sends one notification through the current backend. Other
// components (the timer scheduler) use this for their own alerts.
func (p *Plugin) Deliver(ctx context.Context, title, message string) error {
	return p.backend(ctx, title, message)
}

func (p *Plugin) PromptExtension(pctx *plugins.Context) string {
	return `## Notifications

To send the user a desktop notification, emit:
   <notify title="short title" message="notification body" />

The runtime delivers it and replaces the tag with the delivery status.`
}

func (p *Plugin) ReplyHandlers() []plugins.ReplyHandler {
	return []plugins.ReplyHandler{&replyHandler{plugin: p}}
}

var notifyTagRe = regexp.MustCompile(`(?i)<notify\s+title=["']([^"']+)["']\s+message=["']([^"']+)["']\s*/?>`)

// replyHandler scans for notify tags and replaces each with a status
// glyph. Runs after the timer handler.
type replyHandler struct {
	plugin *Plugin
}

func (h *replyHandler) Priority() int { return 60 }

func (h *replyHandler) HandleReply(ctx context.Context, text string, pctx *plugins.Context) (string, bool) {
	out := text
	for _, match := range notifyTagRe.FindAllStringSubmatch(text, -1) {
		title, message := match[1], match[2]

		replacement := "✅ Notification sent"
		if err := h.plugin.backend(ctx, title, message); err != nil {
			h.plugin.logger.Printf("sending notification: %v", err)
			replacement = "❌ Notification failed"
		}
		out = strings.Replace(out, match[0], replacement, 1)
	}
	return out, true
}

// platformBackend picks the delivery command for the OS.
func platformBackend(goos string) Backend {
	switch goos {
	case "linux":
		return func(ctx context.Context, title, message string) error {
			return exec.CommandContext(ctx, "notify-send", title, message).Run()
		}
	case "darwin":
		return func(ctx context.Context, title, message string) error {
			script := fmt.Sprintf("display notification %q with title %q", message, title)
			return exec.CommandContext(ctx, "osascript", "-e", script).Run()
		}
	case "windows":
		return func(ctx context.Context, title, message string) error {
			script := fmt.Sprintf(
				`New-BurntToastNotification -Text %q, %q`, title, message)
			return exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script).Run()
		}
	default:
		return func(ctx context.Context, title, message string) error {
			return fmt.Errorf("no notification backend for %s", goos)
		}
	}
}
