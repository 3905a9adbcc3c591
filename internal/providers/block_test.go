package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ye-linghua/linghua/internal/engine"
)

func sampleHistory() []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: "you are an agent"},
		{Role: engine.RoleUser, Content: "read the notes file"},
		{
			Role:     engine.RoleAssistant,
			Content:  "checking",
			Thinking: "the user wants the file contents",
			ToolCalls: []engine.ToolCall{
				{ID: "t1", Name: "read_file", Args: map[string]any{"path": "notes.txt"}},
			},
		},
		{Role: engine.RoleTool, Content: "hello from notes", ToolCallID: "t1", Name: "read_file"},
		{Role: engine.RoleAssistant, Content: "the file says: hello from notes"},
	}
}

func TestBlockRoundTripIdentity(t *testing.T) {
	original := sampleHistory()

	req := encodeBlockRequest("test-model", 1024, original, nil)
	decoded, err := decodeBlockMessages(req.System, req.Messages)
	require.NoError(t, err)

	require.Len(t, decoded, len(original))
	for i, want := range original {
		got := decoded[i]
		assert.Equal(t, want.Role, got.Role, "message %d role", i)
		assert.Equal(t, want.Content, got.Content, "message %d content", i)
		assert.Equal(t, want.ToolCallID, got.ToolCallID, "message %d tool_call_id", i)
		require.Len(t, got.ToolCalls, len(want.ToolCalls), "message %d tool_calls", i)
		for j, wtc := range want.ToolCalls {
			assert.Equal(t, wtc.ID, got.ToolCalls[j].ID)
			assert.Equal(t, wtc.Name, got.ToolCalls[j].Name)
			assert.Equal(t, wtc.Args, got.ToolCalls[j].Args)
		}
	}
}

func TestEncodeBlockRequestShape(t *testing.T) {
	req := encodeBlockRequest("test-model", 1024, sampleHistory(), []engine.ToolSchema{
		{Name: "read_file", Description: "Read a file", InputSchema: map[string]any{"type": "object"}},
	})

	assert.Equal(t, "you are an agent", req.System, "system prompt travels out of band")
	for _, m := range req.Messages {
		assert.NotEqual(t, "system", m.Role)
		assert.NotEqual(t, "tool", m.Role, "tool results must be user-role wrappers")
	}

	// Tool result is a tool_result block on a user message.
	last := req.Messages[2]
	blocks, ok := last.Content.([]blockContent)
	require.True(t, ok)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_result", blocks[0].Type)
	assert.Equal(t, "t1", blocks[0].ToolUseID)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "read_file", req.Tools[0].Name)
}

func TestDecodeBlockResponse(t *testing.T) {
	resp := blockResponse{
		Content: []blockContent{
			{Type: "thinking", Thinking: "let me compute"},
			{Type: "text", Text: "the answer "},
			{Type: "text", Text: "is 4"},
			{Type: "tool_use", ID: "t1", Name: "calc", Input: map[string]any{"expr": "2+2"}},
		},
		StopReason: "tool_use",
		Usage:      &blockUsage{InputTokens: 10, OutputTokens: 5},
	}

	got := decodeBlockResponse(resp)
	assert.Equal(t, "the answer is 4", got.Content)
	assert.Equal(t, "let me compute", got.Thinking)
	assert.Equal(t, "tool_use", got.FinishReason)
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "calc", got.ToolCalls[0].Name)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 15, got.Usage.TotalTokens)
}

func TestBlockGenerateAgainstServer(t *testing.T) {
	var gotAuth, gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("anthropic-version")
		assert.Equal(t, "/v1/messages", r.URL.Path)

		var req blockRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "you are an agent", req.System)

		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "hi"}},
			"stop_reason": "stop",
			"base_resp":   map[string]any{"status_code": 0, "status_msg": "ok"},
			"usage":       map[string]any{"total_tokens": 42},
		})
	}))
	defer server.Close()

	client, err := NewBlockClient(server.URL, "test-key", "test-model")
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), sampleHistory()[:2], nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, blockAPIVersion, gotVersion)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
}

func TestBlockEnvelopeErrors(t *testing.T) {
	client := &BlockClient{model: "test-model"}

	tests := []struct {
		name          string
		resp          *baseResp
		wantErr       bool
		wantRetryable bool
		wantHint      bool
	}{
		{"absent envelope", nil, false, false, false},
		{"code zero", &baseResp{StatusCode: 0}, false, false, false},
		{"code 1000", &baseResp{StatusCode: 1000, StatusMsg: "success"}, false, false, false},
		{"insufficient balance", &baseResp{StatusCode: 1008, StatusMsg: "balance"}, true, false, true},
		{"model unsupported", &baseResp{StatusCode: 2013, StatusMsg: "bad model"}, true, false, true},
		{"unknown soft code", &baseResp{StatusCode: 1500, StatusMsg: "internal"}, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.checkEnvelope(tt.resp)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var llmErr *engine.LLMError
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantRetryable, llmErr.Retryable)
			assert.Equal(t, tt.wantHint, llmErr.Hint != "")
		})
	}
}

func TestHTTPStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status        int
		wantErr       bool
		wantRetryable bool
	}{
		{200, false, false},
		{401, true, false},
		{403, true, false},
		{404, true, false},
		{429, true, true},
		{500, true, true},
		{503, true, true},
	}
	for _, tt := range tests {
		err := httpStatusError(tt.status, []byte("body"))
		if !tt.wantErr {
			assert.NoError(t, err, "status %d", tt.status)
			continue
		}
		var llmErr *engine.LLMError
		require.ErrorAs(t, err, &llmErr, "status %d", tt.status)
		assert.Equal(t, tt.wantRetryable, llmErr.Retryable, "status %d", tt.status)
		assert.Equal(t, tt.status, llmErr.Code)
	}
}
