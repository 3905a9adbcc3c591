package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Block types for structured message content.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockResource   = "resource"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one element of a block-style message body.
// Which fields are meaningful depends on Type.
type ContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`        // text
	URI       string         `json:"uri,omitempty"`         // image, resource
	Thinking  string         `json:"thinking,omitempty"`    // thinking
	ID        string         `json:"id,omitempty"`          // tool_use
	Name      string         `json:"name,omitempty"`        // tool_use
	Input     map[string]any `json:"input,omitempty"`       // tool_use
	ToolUseID string         `json:"tool_use_id,omitempty"` // tool_result
	Content   string         `json:"content,omitempty"`     // tool_result
}

// Message is the provider-agnostic chat message passed around the engine.
// Content and Blocks are a tagged pair: when Blocks is non-nil it carries
// the message body and Content is ignored.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	Thinking   string         `json:"thinking,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // RoleTool only
	Name       string         `json:"name,omitempty"`         // RoleTool only
}

// Validate checks structural requirements on the message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("tool messages must carry a tool_call_id")
	}
	return nil
}

// Text flattens the message body to a plain string. Block content is
// stringified block by block, which is also what token accounting sees.
func (m Message) Text() string {
	if m.Blocks == nil {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		data, err := json.Marshal(b)
		if err != nil {
			continue
		}
		out += string(data)
	}
	return out
}

// RawArgsKey is the reserved argument key that preserves tool-call
// arguments which arrived as invalid JSON on the chat-completions wire.
const RawArgsKey = "_raw"

// ToolCall is a function invocation requested by the assistant.
// Args is always structured internally; the chat-completions dialect
// serialises it to a JSON string at the wire boundary.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// Usage holds provider-reported token accounting for one call.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// LLMResponse is the normalised result of one chat call, identical
// across both wire dialects.
type LLMResponse struct {
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// ToolResult is the outcome of one tool execution. A failed result has
// empty Content and a non-empty Error.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Tool is a named, schema-described unit of side effect invoked on the
// model's behalf. Execute reports failures through ToolResult rather
// than panicking; the agent loop converts any panic that slips through
// into a failed result.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns a JSON Schema object with type "object" and a
	// properties map.
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) ToolResult
}

// ToolSchema is the canonical tool description handed to the LLM client.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// SchemaForTool builds the wire schema for a tool.
func SchemaForTool(t Tool) ToolSchema {
	return ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
	}
}

// LLMClient is the stateless request/reply bridge to a chat model
// backend. Implementations normalise their wire dialect into the
// internal response shape; concurrency is the caller's responsibility.
type LLMClient interface {
	Generate(ctx context.Context, messages []Message, tools []ToolSchema) (LLMResponse, error)
}
