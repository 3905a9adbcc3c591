package engine

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Per-message metadata overhead, in tokens.
const messageOverheadTokens = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding returns the shared cl100k_base encoder, or nil if it could
// not be initialised (token counting then falls back to estimation).
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
		enc = e
	})
	return enc
}

// EstimateTokens counts tokens across a message history using the
// cl100k_base vocabulary: every textual field (content or stringified
// blocks, thinking, stringified tool calls) plus a fixed per-message
// overhead. When the tokeniser is unavailable it falls back to
// floor(total_chars / 2.5).
func EstimateTokens(messages []Message) int {
	e := encoding()
	if e == nil {
		return estimateTokensFallback(messages)
	}

	total := 0
	for _, msg := range messages {
		total += len(e.Encode(msg.Text(), nil, nil))
		if msg.Thinking != "" {
			total += len(e.Encode(msg.Thinking, nil, nil))
		}
		if len(msg.ToolCalls) > 0 {
			total += len(e.Encode(stringifyToolCalls(msg.ToolCalls), nil, nil))
		}
		total += messageOverheadTokens
	}
	return total
}

// estimateTokensFallback approximates 2.5 characters per token.
func estimateTokensFallback(messages []Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Text())
		chars += len(msg.Thinking)
		if len(msg.ToolCalls) > 0 {
			chars += len(stringifyToolCalls(msg.ToolCalls))
		}
	}
	return int(float64(chars) / 2.5)
}

func stringifyToolCalls(calls []ToolCall) string {
	var out string
	for _, tc := range calls {
		out += fmt.Sprintf("%s %s %v", tc.ID, tc.Name, tc.Args)
	}
	return out
}
