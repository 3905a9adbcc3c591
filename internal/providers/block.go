package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ye-linghua/linghua/internal/engine"
)

const (
	blockAPIVersion    = "2023-06-01"
	defaultHTTPTimeout = 120 * time.Second
	blockMaxTokens     = 16384
)

// BlockClient speaks the block-style chat dialect: typed content blocks,
// system prompt out of band, and an optional provider status envelope on
// responses (MiniMax and Anthropic-compatible backends).
type BlockClient struct {
	http      *http.Client
	apiBase   string
	apiKey    string
	model     string
	maxTokens int
}

// NewBlockClient creates a block-style client against apiBase.
func NewBlockClient(apiBase, apiKey, model string) (*BlockClient, error) {
	if apiKey == "" {
		return nil, engine.NewConfigError("block-style client requires an API key")
	}
	if apiBase == "" {
		return nil, engine.NewConfigError("block-style client requires an API base URL")
	}
	return &BlockClient{
		http:      &http.Client{Timeout: defaultHTTPTimeout},
		apiBase:   apiBase,
		apiKey:    apiKey,
		model:     model,
		maxTokens: blockMaxTokens,
	}, nil
}

// Wire types.

type blockContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type blockMessage struct {
	Role string `json:"role"`
	// Content is either a plain string or a list of content blocks.
	Content any `json:"content"`
}

type blockTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type blockRequest struct {
	Model     string         `json:"model"`
	Messages  []blockMessage `json:"messages"`
	System    string         `json:"system,omitempty"`
	Tools     []blockTool    `json:"tools,omitempty"`
	MaxTokens int            `json:"max_tokens"`
}

type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

type blockUsage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type blockError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type blockResponse struct {
	Type       string         `json:"type"`
	Content    []blockContent `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *blockUsage    `json:"usage,omitempty"`
	BaseResp   *baseResp      `json:"base_resp,omitempty"`
	Error      *blockError    `json:"error,omitempty"`
}

// Generate implements engine.LLMClient.
func (c *BlockClient) Generate(ctx context.Context, messages []engine.Message, tools []engine.ToolSchema) (engine.LLMResponse, error) {
	req := encodeBlockRequest(c.model, c.maxTokens, messages, tools)

	body, err := json.Marshal(req)
	if err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: false, Message: fmt.Sprintf("encoding request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: false, Message: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", blockAPIVersion)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: true, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: true, Code: httpResp.StatusCode, Message: fmt.Sprintf("reading response: %v", err)}
	}
	if err := httpStatusError(httpResp.StatusCode, data); err != nil {
		return engine.LLMResponse{}, err
	}

	var resp blockResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: true, Code: httpResp.StatusCode, Message: fmt.Sprintf("parsing response: %v", err)}
	}

	if resp.Type == "error" && resp.Error != nil {
		return engine.LLMResponse{}, &engine.LLMError{
			Retryable: false,
			Message:   fmt.Sprintf("API error (%s): %s", resp.Error.Type, resp.Error.Message),
		}
	}
	if err := c.checkEnvelope(resp.BaseResp); err != nil {
		return engine.LLMResponse{}, err
	}

	return decodeBlockResponse(resp), nil
}

// checkEnvelope validates the provider status envelope. Codes 0 and
// 1000, and a missing envelope, mean success.
func (c *BlockClient) checkEnvelope(br *baseResp) error {
	if br == nil || br.StatusCode == 0 || br.StatusCode == 1000 {
		return nil
	}
	e := &engine.LLMError{
		Code:    br.StatusCode,
		Message: fmt.Sprintf("provider error (code %d): %s", br.StatusCode, br.StatusMsg),
	}
	switch br.StatusCode {
	case 1008:
		e.Hint = "Insufficient account balance, please recharge on the provider platform"
	case 2013:
		e.Hint = fmt.Sprintf("Model %q is not supported", c.model)
	default:
		// Unrecognised soft codes are worth another attempt.
		e.Retryable = true
	}
	return e
}

// encodeBlockRequest converts internal messages to the block wire
// shape: the system prompt travels out of band, assistant turns with
// thinking or tool calls become block lists, and tool results ride as
// user-role tool_result blocks.
func encodeBlockRequest(model string, maxTokens int, messages []engine.Message, tools []engine.ToolSchema) blockRequest {
	req := blockRequest{Model: model, MaxTokens: maxTokens}

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			req.System = msg.Content

		case engine.RoleUser:
			if msg.Blocks != nil {
				req.Messages = append(req.Messages, blockMessage{Role: "user", Content: toWireBlocks(msg.Blocks)})
			} else {
				req.Messages = append(req.Messages, blockMessage{Role: "user", Content: msg.Content})
			}

		case engine.RoleAssistant:
			if msg.Thinking == "" && len(msg.ToolCalls) == 0 {
				req.Messages = append(req.Messages, blockMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			var blocks []blockContent
			if msg.Thinking != "" {
				blocks = append(blocks, blockContent{Type: "thinking", Thinking: msg.Thinking})
			}
			if msg.Content != "" {
				blocks = append(blocks, blockContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, blockContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Args})
			}
			req.Messages = append(req.Messages, blockMessage{Role: "assistant", Content: blocks})

		case engine.RoleTool:
			req.Messages = append(req.Messages, blockMessage{Role: "user", Content: []blockContent{
				{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content},
			}})
		}
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, blockTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return req
}

func toWireBlocks(blocks []engine.ContentBlock) []blockContent {
	out := make([]blockContent, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockContent{
			Type:      b.Type,
			Text:      b.Text,
			Thinking:  b.Thinking,
			ID:        b.ID,
			Name:      b.Name,
			Input:     b.Input,
			ToolUseID: b.ToolUseID,
			Content:   b.Content,
		})
	}
	return out
}

// decodeBlockResponse flattens a content-block list into the internal
// response shape: text blocks concatenate, thinking blocks concatenate,
// tool_use blocks become tool calls in order.
func decodeBlockResponse(resp blockResponse) engine.LLMResponse {
	out := engine.LLMResponse{FinishReason: resp.StopReason}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			out.Content += b.Text
		case "thinking":
			out.Thinking += b.Thinking
		case "tool_use":
			args := b.Input
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, engine.ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	if resp.Usage != nil {
		total := resp.Usage.TotalTokens
		if total == 0 {
			total = resp.Usage.InputTokens + resp.Usage.OutputTokens
		}
		if total > 0 {
			out.Usage = &engine.Usage{TotalTokens: total}
		}
	}
	return out
}

// decodeBlockMessages converts wire messages back to the internal
// shape; the inverse of encodeBlockRequest's message handling.
func decodeBlockMessages(system string, messages []blockMessage) ([]engine.Message, error) {
	var out []engine.Message
	if system != "" {
		out = append(out, engine.Message{Role: engine.RoleSystem, Content: system})
	}

	for _, wm := range messages {
		switch content := wm.Content.(type) {
		case string:
			out = append(out, engine.Message{Role: engine.Role(wm.Role), Content: content})

		case []blockContent:
			msg := engine.Message{Role: engine.Role(wm.Role)}
			for _, b := range content {
				switch b.Type {
				case "text":
					msg.Content += b.Text
				case "thinking":
					msg.Thinking += b.Thinking
				case "tool_use":
					msg.ToolCalls = append(msg.ToolCalls, engine.ToolCall{ID: b.ID, Name: b.Name, Args: b.Input})
				case "tool_result":
					// Tool results travel as user-role wrappers; restore
					// the internal tool role.
					msg.Role = engine.RoleTool
					msg.ToolCallID = b.ToolUseID
					msg.Content = b.Content
				}
			}
			out = append(out, msg)

		default:
			return nil, fmt.Errorf("unsupported content type %T in wire message", wm.Content)
		}
	}
	return out, nil
}

// httpStatusError maps an HTTP status to a typed error, nil for 2xx.
// Auth, quota, and client errors are fatal; server errors retryable.
func httpStatusError(status int, body []byte) error {
	if status < 400 {
		return nil
	}
	e := &engine.LLMError{
		Code:    status,
		Message: fmt.Sprintf("HTTP %d: %s", status, truncate(string(body), 500)),
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Hint = "Check that your API key is valid and has access to this model"
	case status == http.StatusTooManyRequests:
		e.Retryable = true
	case status >= 500:
		e.Retryable = true
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
