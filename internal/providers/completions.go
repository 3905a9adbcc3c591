package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ye-linghua/linghua/internal/engine"
)

const completionsMaxTokens = 2048

// CompletionsClient speaks the chat-completions dialect (OpenAI and
// compatible local servers such as LM Studio). Tool arguments are JSON
// strings on the wire; the client keeps them structured internally.
type CompletionsClient struct {
	http      *http.Client
	apiBase   string
	apiKey    string
	model     string
	maxTokens int
}

// NewCompletionsClient creates a chat-completions client against
// apiBase. Local servers accept any non-empty key.
func NewCompletionsClient(apiBase, apiKey, model string) (*CompletionsClient, error) {
	if apiBase == "" {
		return nil, engine.NewConfigError("chat-completions client requires an API base URL")
	}
	return &CompletionsClient{
		http:      &http.Client{Timeout: defaultHTTPTimeout},
		apiBase:   apiBase,
		apiKey:    apiKey,
		model:     model,
		maxTokens: completionsMaxTokens,
	}, nil
}

// Wire types.

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Tools      []chatToolDef `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
	MaxTokens  int           `json:"max_tokens"`
}

type chatUsage struct {
	TotalTokens int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

// Generate implements engine.LLMClient.
func (c *CompletionsClient) Generate(ctx context.Context, messages []engine.Message, tools []engine.ToolSchema) (engine.LLMResponse, error) {
	req := encodeChatRequest(c.model, c.maxTokens, messages, tools)

	body, err := json.Marshal(req)
	if err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: false, Message: fmt.Sprintf("encoding request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: false, Message: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

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

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: true, Code: httpResp.StatusCode, Message: fmt.Sprintf("parsing response: %v", err)}
	}
	return decodeChatResponse(resp)
}

// encodeChatRequest converts internal messages to chat-completions wire
// shape. Thinking has no wire representation in this dialect and is
// omitted; structured tool arguments are serialised to JSON strings.
func encodeChatRequest(model string, maxTokens int, messages []engine.Message, tools []engine.ToolSchema) chatRequest {
	req := chatRequest{Model: model, MaxTokens: maxTokens}

	for _, msg := range messages {
		wm := chatMessage{Role: string(msg.Role), Content: msg.Text()}
		switch msg.Role {
		case engine.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				wm.ToolCalls = append(wm.ToolCalls, chatToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: chatFunction{
						Name:      tc.Name,
						Arguments: encodeArguments(tc.Args),
					},
				})
			}
		case engine.RoleTool:
			wm.ToolCallID = msg.ToolCallID
			wm.Name = msg.Name
		}
		req.Messages = append(req.Messages, wm)
	}

	for _, t := range tools {
		var def chatToolDef
		def.Type = "function"
		def.Function.Name = t.Name
		def.Function.Description = t.Description
		def.Function.Parameters = t.InputSchema
		req.Tools = append(req.Tools, def)
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	return req
}

// encodeArguments serialises structured arguments to the wire string.
// Arguments preserved under the reserved raw key round-trip verbatim.
func encodeArguments(args map[string]any) string {
	if raw, ok := args[engine.RawArgsKey]; ok && len(args) == 1 {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// decodeArguments parses the wire argument string; invalid JSON is
// preserved verbatim under the reserved raw key.
func decodeArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{engine.RawArgsKey: raw}
	}
	return args
}

func decodeChatResponse(resp chatResponse) (engine.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, &engine.LLMError{Retryable: true, Message: "response missing choices"}
	}
	choice := resp.Choices[0]

	out := engine.LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, engine.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: decodeArguments(tc.Function.Arguments),
		})
	}
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		out.Usage = &engine.Usage{TotalTokens: resp.Usage.TotalTokens}
	}
	return out, nil
}

// decodeChatMessages converts wire messages back to the internal shape;
// the inverse of encodeChatRequest's message handling.
func decodeChatMessages(messages []chatMessage) []engine.Message {
	out := make([]engine.Message, 0, len(messages))
	for _, wm := range messages {
		msg := engine.Message{
			Role:       engine.Role(wm.Role),
			Content:    wm.Content,
			ToolCallID: wm.ToolCallID,
			Name:       wm.Name,
		}
		for _, tc := range wm.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, engine.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: decodeArguments(tc.Function.Arguments),
			})
		}
		out = append(out, msg)
	}
	return out
}
