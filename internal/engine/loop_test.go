package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// scriptedLLM replays a fixed sequence of responses/errors and records
// the payload of every call.
type scriptedLLM struct {
	script []func() (LLMResponse, error)
	calls  int

	lastMessages []Message
	lastTools    []ToolSchema
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []Message, tools []ToolSchema) (LLMResponse, error) {
	s.lastMessages = messages
	s.lastTools = tools
	if s.calls >= len(s.script) {
		return LLMResponse{}, fmt.Errorf("unexpected LLM call %d", s.calls)
	}
	step := s.script[s.calls]
	s.calls++
	return step()
}

func reply(content string, calls ...ToolCall) func() (LLMResponse, error) {
	return func() (LLMResponse, error) {
		return LLMResponse{Content: content, ToolCalls: calls, FinishReason: "stop"}, nil
	}
}

func fail(err error) func() (LLMResponse, error) {
	return func() (LLMResponse, error) { return LLMResponse{}, err }
}

// echoTool returns its "text" argument; panicTool panics on purpose.
type echoTool struct{ executed int }

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echo the given text back." }
func (e *echoTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}
}
func (e *echoTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	e.executed++
	text, _ := args["text"].(string)
	return ToolResult{Success: true, Content: "echo: " + text}
}

type panicTool struct{}

func (panicTool) Name() string                 { return "explode" }
func (panicTool) Description() string          { return "Always panics." }
func (panicTool) InputSchema() map[string]any  { return map[string]any{"type": "object"} }
func (panicTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	panic("kaboom")
}

func testAgent(t *testing.T, llm LLMClient, tools []Tool, cfg AgentConfig) *Agent {
	t.Helper()
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 10
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastPolicy(3)
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = t.TempDir()
	}
	return NewAgent(llm, "You are a helpful assistant.", tools, cfg, log.New(io.Discard, "", 0))
}

func TestRunTerminalAnswerWithoutTools(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply("Paris is the capital of France."),
	}}
	agent := testAgent(t, llm, nil, AgentConfig{})
	agent.AppendUserMessage("What is the capital of France?")

	got := agent.Run(context.Background())
	if got != "Paris is the capital of France." {
		t.Errorf("Run() = %q", got)
	}
	if llm.calls != 1 {
		t.Errorf("LLM called %d times, want 1", llm.calls)
	}

	history := agent.History()
	roles := make([]Role, 0, len(history))
	for _, m := range history {
		roles = append(roles, m.Role)
	}
	want := []Role{RoleSystem, RoleUser, RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("history roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("history[%d].Role = %s, want %s", i, roles[i], want[i])
		}
	}
}

func TestRunSingleToolTurn(t *testing.T) {
	echo := &echoTool{}
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply("", ToolCall{ID: "call_1", Name: "echo", Args: map[string]any{"text": "hello"}}),
		reply("The tool said: echo: hello"),
	}}
	agent := testAgent(t, llm, []Tool{echo}, AgentConfig{})
	agent.AppendUserMessage("use the echo tool")

	got := agent.Run(context.Background())
	if got != "The tool said: echo: hello" {
		t.Errorf("Run() = %q", got)
	}
	if echo.executed != 1 {
		t.Errorf("tool executed %d times, want 1", echo.executed)
	}

	history := agent.History()
	// system, user, assistant(tool call), tool, assistant
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	toolMsg := history[3]
	if toolMsg.Role != RoleTool || toolMsg.ToolCallID != "call_1" || toolMsg.Name != "echo" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if toolMsg.Content != "echo: hello" {
		t.Errorf("tool message content = %q, want %q", toolMsg.Content, "echo: hello")
	}
}

func TestRunUnknownToolContinuesLoop(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply("", ToolCall{ID: "call_1", Name: "nope", Args: map[string]any{}}),
		reply("recovered"),
	}}
	agent := testAgent(t, llm, []Tool{&echoTool{}}, AgentConfig{})
	agent.AppendUserMessage("call a tool that does not exist")

	got := agent.Run(context.Background())
	if got != "recovered" {
		t.Errorf("Run() = %q, want %q", got, "recovered")
	}

	history := agent.History()
	toolMsg := history[3]
	if toolMsg.Role != RoleTool {
		t.Fatalf("history[3].Role = %s, want tool", toolMsg.Role)
	}
	if toolMsg.Content != "Error: Unknown tool: nope" {
		t.Errorf("tool message content = %q, want %q", toolMsg.Content, "Error: Unknown tool: nope")
	}
}

func TestRunToolPanicBecomesFailedResult(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply("", ToolCall{ID: "call_1", Name: "explode", Args: map[string]any{}}),
		reply("survived"),
	}}
	agent := testAgent(t, llm, []Tool{panicTool{}}, AgentConfig{})
	agent.AppendUserMessage("go")

	if got := agent.Run(context.Background()); got != "survived" {
		t.Errorf("Run() = %q, want %q", got, "survived")
	}

	toolMsg := agent.History()[3]
	if !strings.Contains(toolMsg.Content, "Tool execution failed") ||
		!strings.Contains(toolMsg.Content, "kaboom") {
		t.Errorf("panic not surfaced in tool message: %q", toolMsg.Content)
	}
}

func TestRunInvalidArgumentsRejectedBeforeExecution(t *testing.T) {
	echo := &echoTool{}
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply("", ToolCall{ID: "call_1", Name: "echo", Args: map[string]any{"text": 7}}),
		reply("ok"),
	}}
	agent := testAgent(t, llm, []Tool{echo}, AgentConfig{})
	agent.AppendUserMessage("go")

	agent.Run(context.Background())
	if echo.executed != 0 {
		t.Errorf("tool executed %d times despite invalid arguments", echo.executed)
	}
	toolMsg := agent.History()[3]
	if !strings.Contains(toolMsg.Content, "Invalid arguments for tool echo") {
		t.Errorf("tool message = %q", toolMsg.Content)
	}
}

func TestRunMultipleToolCallsExecuteInOrder(t *testing.T) {
	var order []string
	first := &namedTool{name: "first", order: &order}
	second := &namedTool{name: "second", order: &order}
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply("",
			ToolCall{ID: "c1", Name: "first", Args: map[string]any{}},
			ToolCall{ID: "c2", Name: "second", Args: map[string]any{}},
		),
		reply("done"),
	}}
	agent := testAgent(t, llm, []Tool{first, second}, AgentConfig{})
	agent.AppendUserMessage("go")
	agent.Run(context.Background())

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}
}

type namedTool struct {
	name  string
	order *[]string
}

func (n *namedTool) Name() string                { return n.name }
func (n *namedTool) Description() string         { return n.name }
func (n *namedTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (n *namedTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	*n.order = append(*n.order, n.name)
	return ToolResult{Success: true, Content: n.name}
}

func TestRunRetriesExhaustedTerminalMessage(t *testing.T) {
	transient := &LLMError{Retryable: true, Code: 503, Message: "service unavailable"}
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		fail(transient), fail(transient), fail(transient),
	}}
	agent := testAgent(t, llm, nil, AgentConfig{Retry: fastPolicy(3)})
	agent.AppendUserMessage("hello")

	got := agent.Run(context.Background())
	want := "LLM call failed after 3 retries: service unavailable"
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}

func TestRunFatalErrorTerminalMessage(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		fail(&LLMError{Retryable: false, Code: 401, Message: "unauthorized"}),
	}}
	agent := testAgent(t, llm, nil, AgentConfig{})
	agent.AppendUserMessage("hello")

	got := agent.Run(context.Background())
	if !strings.HasPrefix(got, "LLM call failed: ") || !strings.Contains(got, "unauthorized") {
		t.Errorf("Run() = %q", got)
	}
	if llm.calls != 1 {
		t.Errorf("LLM called %d times, want 1", llm.calls)
	}
}

func TestRunStepBudgetExhausted(t *testing.T) {
	script := make([]func() (LLMResponse, error), 3)
	for i := range script {
		script[i] = reply("", ToolCall{ID: fmt.Sprintf("c%d", i), Name: "echo", Args: map[string]any{"text": "again"}})
	}
	llm := &scriptedLLM{script: script}
	agent := testAgent(t, llm, []Tool{&echoTool{}}, AgentConfig{MaxSteps: 3})
	agent.AppendUserMessage("never finish")

	got := agent.Run(context.Background())
	if got != "Task couldn't be completed after 3 steps." {
		t.Errorf("Run() = %q", got)
	}
	if llm.calls != 3 {
		t.Errorf("LLM called %d times, want 3", llm.calls)
	}
}

func TestRunZeroStepBudget(t *testing.T) {
	llm := &scriptedLLM{}
	cfg := AgentConfig{MaxSteps: 0, Retry: fastPolicy(3), WorkspaceDir: t.TempDir()}
	agent := NewAgent(llm, "assistant", nil, cfg, log.New(io.Discard, "", 0))
	agent.AppendUserMessage("hello")

	got := agent.Run(context.Background())
	if got != "Task couldn't be completed after 0 steps." {
		t.Errorf("Run() = %q", got)
	}
	if llm.calls != 0 {
		t.Errorf("LLM consulted %d times with a zero budget", llm.calls)
	}
}

func TestRunCancelledBeforeFirstStep(t *testing.T) {
	llm := &scriptedLLM{}
	agent := testAgent(t, llm, nil, AgentConfig{})
	agent.AppendUserMessage("hello")
	agent.CancelFlag().Raise()

	if got := agent.Run(context.Background()); got != CancelledMessage {
		t.Errorf("Run() = %q, want %q", got, CancelledMessage)
	}
	if llm.calls != 0 {
		t.Errorf("LLM called %d times after cancellation, want 0", llm.calls)
	}
}

func TestCancelledRunConsumesFlag(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){reply("hi")}}
	agent := testAgent(t, llm, nil, AgentConfig{})
	agent.AppendUserMessage("hello")
	agent.CancelFlag().Raise()

	if got := agent.Run(context.Background()); got != CancelledMessage {
		t.Fatalf("Run() = %q, want %q", got, CancelledMessage)
	}
	if agent.CancelFlag().Raised() {
		t.Errorf("cancel flag still raised after the cancelled run returned")
	}
	// The session remains usable for the next turn.
	agent.AppendUserMessage("again")
	if got := agent.Run(context.Background()); got != "hi" {
		t.Errorf("Run() after cancellation = %q, want %q", got, "hi")
	}
}

func TestRunCancelledBetweenSteps(t *testing.T) {
	var agent *Agent
	llm := &scriptedLLM{}
	llm.script = []func() (LLMResponse, error){
		func() (LLMResponse, error) {
			// Raise cancellation while a tool round is pending.
			agent.CancelFlag().Raise()
			return LLMResponse{
				ToolCalls: []ToolCall{{ID: "c1", Name: "echo", Args: map[string]any{"text": "hi"}}},
			}, nil
		},
	}
	echo := &echoTool{}
	agent = testAgent(t, llm, []Tool{echo}, AgentConfig{})
	agent.AppendUserMessage("hello")

	got := agent.Run(context.Background())
	if got != CancelledMessage {
		t.Errorf("Run() = %q, want %q", got, CancelledMessage)
	}
	// The response arrived after the flag was raised, so it is dropped
	// and no tool runs; history stays free of dangling tool calls.
	if echo.executed != 0 {
		t.Errorf("tool executed %d times after cancellation", echo.executed)
	}
	for _, m := range agent.History() {
		if len(m.ToolCalls) > 0 {
			t.Errorf("cancelled history retains an assistant message with tool calls")
		}
	}
}

func TestRunPromptExtensionAppliedToPayloadOnly(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){reply("hi")}}
	agent := testAgent(t, llm, nil, AgentConfig{})
	agent.SetPromptExtender(func(history []Message) string {
		return "## Active Timers\n- none"
	})
	agent.AppendUserMessage("hello")
	agent.Run(context.Background())

	sent := llm.lastMessages[0].Content
	if !strings.Contains(sent, "## Active Timers") {
		t.Errorf("outgoing system prompt missing extension: %q", sent)
	}
	stored := agent.History()[0].Content
	if strings.Contains(stored, "## Active Timers") {
		t.Errorf("history system prompt must not carry the extension")
	}
}

func TestRunReplyRewriterShapesTerminalAnswer(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply(`done <notify title="t" message="m"/>`),
	}}
	agent := testAgent(t, llm, nil, AgentConfig{})
	agent.SetReplyRewriter(func(ctx context.Context, text string, history []Message) string {
		return strings.TrimSpace(strings.Split(text, "<notify")[0])
	})
	agent.AppendUserMessage("hello")

	if got := agent.Run(context.Background()); got != "done" {
		t.Errorf("Run() = %q, want %q", got, "done")
	}
}

func TestRunWritesRunLog(t *testing.T) {
	dir := t.TempDir()
	llm := &scriptedLLM{script: []func() (LLMResponse, error){
		reply("", ToolCall{ID: "c1", Name: "echo", Args: map[string]any{"text": "hi"}}),
		reply("done"),
	}}
	agent := testAgent(t, llm, []Tool{&echoTool{}}, AgentConfig{WorkspaceDir: dir})
	agent.AppendUserMessage("hello")
	agent.Run(context.Background())

	data, err := readRunLog(dir)
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	for _, want := range []string{"REQUEST", "RESPONSE", "TOOL_RESULT", "echo: hi"} {
		if !strings.Contains(data, want) {
			t.Errorf("run log missing %q", want)
		}
	}
}

func TestRunLogFailureDoesNotAbortRun(t *testing.T) {
	llm := &scriptedLLM{script: []func() (LLMResponse, error){reply("fine")}}
	cfg := AgentConfig{MaxSteps: 10, Retry: fastPolicy(3), WorkspaceDir: "/nonexistent/cannot/create"}
	agent := NewAgent(llm, "assistant", nil, cfg, log.New(io.Discard, "", 0))
	agent.AppendUserMessage("hello")

	if got := agent.Run(context.Background()); got != "fine" {
		t.Errorf("Run() = %q, want %q", got, "fine")
	}
}

// readRunLog reads the single agent_run_*.log file under dir.
func readRunLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "agent_run_*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("found %d run logs, want 1", len(matches))
	}
	data, err := os.ReadFile(matches[0])
	return string(data), err
}

func TestRunContextDeadlineTreatedAsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	llm := &scriptedLLM{}
	agent := testAgent(t, llm, nil, AgentConfig{})
	agent.AppendUserMessage("hello")

	if got := agent.Run(ctx); got != CancelledMessage {
		t.Errorf("Run() = %q, want %q", got, CancelledMessage)
	}
}
