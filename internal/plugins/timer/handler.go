package timer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ye-linghua/linghua/internal/plugins"
)

var (
	setTagRe    = regexp.MustCompile(`(?i)<set-timer\s+time=["']([^"']+)["']\s+reason=["']([^"']+)["'](?:\s+repeat=["']([^"']+)["'])?\s*/?>`)
	listTagRe   = regexp.MustCompile(`(?i)<list-timers\s*/?>`)
	removeTagRe = regexp.MustCompile(`(?i)<remove-timer\s+id=["']([^"']+)["']\s*/?>`)
)

// replyHandler scans assistant text for timer tags and replaces each
// with a user-facing confirmation. Unmatched tags are left verbatim.
type replyHandler struct {
	plugin *Plugin
}

func (h *replyHandler) Priority() int { return 50 }

func (h *replyHandler) HandleReply(ctx context.Context, text string, pctx *plugins.Context) (string, bool) {
	out := text

	for _, match := range setTagRe.FindAllStringSubmatch(text, -1) {
		timeStr, reason := match[1], match[2]
		repeat := ParseRepeat(match[3])

		id, err := h.plugin.SetTimer(timeStr, reason, repeat, pctx)
		replacement := fmt.Sprintf("✅ Timer set (ID: %s)", shortID(id))
		if err != nil {
			replacement = fmt.Sprintf("❌ Could not set timer: %v", err)
		}
		out = strings.Replace(out, match[0], replacement, 1)
	}

	for _, match := range listTagRe.FindAllString(text, -1) {
		out = strings.Replace(out, match, h.plugin.ListTimers(), 1)
	}

	for _, match := range removeTagRe.FindAllStringSubmatch(text, -1) {
		id := match[1]
		replacement := fmt.Sprintf("✅ Removed timer %s", id)
		if !h.plugin.RemoveTimer(id) {
			replacement = fmt.Sprintf("❌ Timer %s not found", id)
		}
		out = strings.Replace(out, match[0], replacement, 1)
	}

	return out, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
