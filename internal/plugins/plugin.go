package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/ye-linghua/linghua/internal/engine"
)

// Type tags how a plugin is implemented.
type Type string

const (
	TypeGo         Type = "go"
	TypeShell      Type = "shell"
	TypePowerShell Type = "powershell"
)

// Metadata is the stable identity of a plugin.
type Metadata struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Description  string         `json:"description"`
	Author       string         `json:"author,omitempty"`
	Type         Type           `json:"type"`
	Enabled      bool           `json:"enabled"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// Context carries the conversation state a plugin may consult when
// producing prompt extensions or handling replies.
type Context struct {
	Messages  []engine.Message
	Platform  string
	UserID    string
	SessionID string
	Config    map[string]any
	Extra     map[string]any
}

// RecentMessages returns up to n trailing messages.
func (c *Context) RecentMessages(n int) []engine.Message {
	if len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// MessageSummary renders a short preview of the recent conversation,
// one line per message with long content truncated.
func (c *Context) MessageSummary() string {
	var lines []string
	for _, msg := range c.RecentMessages(5) {
		content := msg.Text()
		if runes := []rune(content); len(runes) > 100 {
			content = string(runes[:100]) + "..."
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", msg.Role, content))
	}
	return strings.Join(lines, "\n")
}

// ReplyHandler post-processes assistant text. Handlers run in ascending
// priority order; returning cont=false stops the chain.
type ReplyHandler interface {
	Priority() int
	HandleReply(ctx context.Context, text string, pctx *Context) (newText string, cont bool)
}

// Plugin contributes a prompt extension before each LLM call and
// optional reply handlers after it.
type Plugin interface {
	Metadata() *Metadata
	Initialise(ctx context.Context) error
	Shutdown(ctx context.Context) error
	PromptExtension(pctx *Context) string
	ReplyHandlers() []ReplyHandler
}

// ContextProvider is an optional plugin capability: extra key/value
// pairs merged into Context.Extra before prompt extensions run. Shell
// plugins implement it through the get_context script action.
type ContextProvider interface {
	ContextExtension(pctx *Context) map[string]any
}
