package engine

import (
	"context"
	"log"
)

// DefaultTokenLimit is the context size that triggers summarisation
// unless the caller configures otherwise.
const DefaultTokenLimit = 80000

// ContextManager owns one conversation's message history and tool list.
// It accounts for token usage from two signals (a local tokeniser
// estimate and the provider-reported total) and compacts history by
// summarising execution rounds when either signal exceeds the limit.
//
// It is not safe for concurrent use; a session's agent loop is its only
// caller.
type ContextManager struct {
	llm        LLMClient
	messages   []Message
	tools      []Tool
	schemas    []ToolSchema
	tokenLimit int
	logger     *log.Logger

	apiTotalTokens int
	skipNextCheck  bool
}

// NewContextManager creates a manager seeded with the system prompt.
// llm is used for one-shot summary generation. tokenLimit is taken
// verbatim; a zero limit makes every check trigger a pass (the one-shot
// skip still prevents looping), so callers wanting the default pass
// DefaultTokenLimit.
func NewContextManager(systemPrompt string, llm LLMClient, tools []Tool, tokenLimit int, logger *log.Logger) *ContextManager {
	schemas := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, SchemaForTool(t))
	}
	return &ContextManager{
		llm:        llm,
		messages:   []Message{{Role: RoleSystem, Content: systemPrompt}},
		tools:      tools,
		schemas:    schemas,
		tokenLimit: tokenLimit,
		logger:     logger,
	}
}

// AppendUser appends a user turn.
func (c *ContextManager) AppendUser(text string) {
	c.messages = append(c.messages, Message{Role: RoleUser, Content: text})
}

// AppendAssistant appends the assistant message for a model response,
// preserving thinking and tool calls.
func (c *ContextManager) AppendAssistant(resp LLMResponse) {
	c.messages = append(c.messages, Message{
		Role:      RoleAssistant,
		Content:   resp.Content,
		Thinking:  resp.Thinking,
		ToolCalls: resp.ToolCalls,
	})
}

// AppendTool appends a tool-role message for one tool result. Failed
// results are rendered as "Error: <error>".
func (c *ContextManager) AppendTool(result ToolResult, toolCallID, name string) {
	content := result.Content
	if !result.Success {
		content = "Error: " + result.Error
	}
	c.messages = append(c.messages, Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Name:       name,
	})
}

// Context returns the payload for the next LLM call. The caller must
// not mutate either slice.
func (c *ContextManager) Context() ([]Message, []ToolSchema) {
	return c.messages, c.schemas
}

// Tools returns the tool list backing this context.
func (c *ContextManager) Tools() []Tool { return c.tools }

// UpdateAPITokens records the provider-reported token count from a
// response. Responses without usage leave the previous value in place.
func (c *ContextManager) UpdateAPITokens(resp LLMResponse) {
	if resp.Usage != nil {
		c.apiTotalTokens = resp.Usage.TotalTokens
	}
}

// HistorySnapshot returns a stable copy of the message history.
func (c *ContextManager) HistorySnapshot() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// TokenEstimate returns the current local token estimate for the
// history.
func (c *ContextManager) TokenEstimate() int {
	return EstimateTokens(c.messages)
}

// MaybeSummarise compacts the history when either token signal exceeds
// the limit. It is idempotent and intended to run before each LLM
// request. After a pass it arms a one-shot skip so the next call does
// not re-enter before the provider token count refreshes.
//
// The provider signal is only consulted once a response has reported
// usage; providers that never report usage rely on the local estimate.
func (c *ContextManager) MaybeSummarise(ctx context.Context) {
	if c.skipNextCheck {
		c.skipNextCheck = false
		return
	}

	estimated := c.TokenEstimate()
	over := estimated > c.tokenLimit || (c.apiTotalTokens > 0 && c.apiTotalTokens > c.tokenLimit)
	if !over {
		return
	}

	userIdx := c.userIndices()
	if len(userIdx) < 1 {
		return
	}

	c.logger.Printf("token usage over limit (local=%d api=%d limit=%d), summarising history",
		estimated, c.apiTotalTokens, c.tokenLimit)

	// Rebuild: system prompt, then each user turn followed by a summary
	// of the execution slice up to the next user turn. Assistant/tool
	// messages after the last user turn are covered by the final slice,
	// so no dangling tool use survives the pass.
	rebuilt := []Message{c.messages[0]}
	summaries := 0
	for i, idx := range userIdx {
		rebuilt = append(rebuilt, c.messages[idx])

		end := len(c.messages)
		if i+1 < len(userIdx) {
			end = userIdx[i+1]
		}
		slice := c.messages[idx+1 : end]
		if len(slice) == 0 {
			continue
		}

		summary := c.summariseSlice(ctx, slice, i+1)
		if summary != "" {
			rebuilt = append(rebuilt, Message{
				Role:    RoleUser,
				Content: summaryMarker + "\n\n" + summary,
			})
			summaries++
		}
	}

	c.messages = rebuilt
	c.skipNextCheck = true

	c.logger.Printf("summary complete: %d user turns, %d summaries, local tokens %d -> %d",
		len(userIdx), summaries, estimated, c.TokenEstimate())
}

// userIndices returns the indices of all user messages after the system
// prompt.
func (c *ContextManager) userIndices() []int {
	var idx []int
	for i, msg := range c.messages {
		if i > 0 && msg.Role == RoleUser {
			idx = append(idx, i)
		}
	}
	return idx
}
