package engine

import (
	"context"
	"fmt"
	"strings"
)

// summaryMarker prefixes every synthetic summary message so later passes
// and inspection can tell them apart from original user turns.
const summaryMarker = "[Execution Summary]"

const summariseSystem = "You are an assistant skilled at summarizing agent execution processes."

const summariseInstructions = `Requirements:
1. Focus on what tasks were completed and which tools were called
2. Keep key execution results and important findings
3. Be concise and clear, within 1000 words
4. Do not include user content, only summarize the agent's execution process`

// IsSummaryMessage reports whether a message is a synthetic execution
// summary produced by a summarisation pass.
func IsSummaryMessage(m Message) bool {
	return m.Role == RoleUser && strings.HasPrefix(m.Content, summaryMarker)
}

// summariseSlice condenses one execution round (the assistant/tool
// messages between two user turns) into a short text via a one-shot LLM
// call. If generation fails the raw rendering is returned instead, which
// is lossy but bounded by the original slice.
func (c *ContextManager) summariseSlice(ctx context.Context, slice []Message, round int) string {
	raw := renderForSummary(slice, round)

	prompt := fmt.Sprintf("Please provide a concise summary of the following agent execution process:\n\n%s\n\n%s", raw, summariseInstructions)
	resp, err := c.llm.Generate(ctx, []Message{
		{Role: RoleSystem, Content: summariseSystem},
		{Role: RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		c.logger.Printf("summary generation failed for round %d: %v (using raw slice)", round, err)
		return raw
	}
	return resp.Content
}

// renderForSummary flattens an execution slice to text for the summary
// prompt, and serves as the fallback summary itself.
func renderForSummary(slice []Message, round int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d execution process:\n\n", round)
	for _, msg := range slice {
		switch msg.Role {
		case RoleAssistant:
			b.WriteString("Assistant: " + msg.Text() + "\n")
			if len(msg.ToolCalls) > 0 {
				names := make([]string, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					names = append(names, tc.Name)
				}
				b.WriteString("  -> Called tools: " + strings.Join(names, ", ") + "\n")
			}
		case RoleTool:
			b.WriteString("  <- Tool returned: " + msg.Text() + "\n")
		}
	}
	return b.String()
}
