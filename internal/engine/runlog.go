package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunLogger writes an append-only trace of one agent run: LLM requests,
// responses, and tool invocations. It is purely observational; write
// failures never abort the run.
type RunLogger struct {
	workspaceDir string
	logFile      string
	index        int
}

// NewRunLogger creates a logger that stores run traces under the
// session's workspace directory.
func NewRunLogger(workspaceDir string) *RunLogger {
	return &RunLogger{workspaceDir: workspaceDir}
}

// StartRun opens a fresh timestamped log file for a run.
func (l *RunLogger) StartRun() {
	ts := time.Now().Format("20060102_150405")
	l.logFile = filepath.Join(l.workspaceDir, fmt.Sprintf("agent_run_%s.log", ts))
	l.index = 0

	header := strings.Repeat("=", 80) + "\n" +
		fmt.Sprintf("Agent Run Log - %s\n", time.Now().Format("2006-01-02 15:04:05")) +
		strings.Repeat("=", 80) + "\n\n"
	_ = os.WriteFile(l.logFile, []byte(header), 0644)
}

// Path returns the current log file path, empty before StartRun.
func (l *RunLogger) Path() string { return l.logFile }

// LogRequest records the messages and tool names of one LLM request.
func (l *RunLogger) LogRequest(messages []Message, tools []ToolSchema) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	l.write("REQUEST", map[string]any{
		"messages": messages,
		"tools":    names,
	})
}

// LogResponse records one LLM response.
func (l *RunLogger) LogResponse(resp LLMResponse) {
	entry := map[string]any{"content": resp.Content}
	if resp.Thinking != "" {
		entry["thinking"] = resp.Thinking
	}
	if len(resp.ToolCalls) > 0 {
		entry["tool_calls"] = resp.ToolCalls
	}
	if resp.FinishReason != "" {
		entry["finish_reason"] = resp.FinishReason
	}
	l.write("RESPONSE", entry)
}

// LogToolResult records one tool invocation and its outcome.
func (l *RunLogger) LogToolResult(name string, args map[string]any, result ToolResult) {
	entry := map[string]any{
		"tool_name": name,
		"arguments": args,
		"success":   result.Success,
	}
	if result.Success {
		entry["result"] = result.Content
	} else {
		entry["error"] = result.Error
	}
	l.write("TOOL_RESULT", entry)
}

func (l *RunLogger) write(kind string, payload any) {
	if l.logFile == "" {
		return
	}
	l.index++

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}

	f, err := os.OpenFile(l.logFile, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "\n%s\n[%d] %s\nTimestamp: %s\n%s\n%s\n",
		strings.Repeat("-", 80),
		l.index,
		kind,
		time.Now().Format("2006-01-02 15:04:05.000"),
		strings.Repeat("-", 80),
		string(data))
}
