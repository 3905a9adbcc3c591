package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
)

// CancelledMessage is the distinguished terminal answer of a cancelled
// run.
const CancelledMessage = "Task cancelled."

// CancelFlag is the cooperative cancellation signal owned by a session.
// The agent loop polls it at the top of each step and after suspension
// points; in-flight work is never forcibly terminated.
type CancelFlag struct {
	raised atomic.Bool
}

// Raise marks the flag. Raising is idempotent and never blocks.
func (f *CancelFlag) Raise() { f.raised.Store(true) }

// Lower clears the flag. The loop lowers it when a run terminates on
// cancellation so the session stays usable for later messages.
func (f *CancelFlag) Lower() { f.raised.Store(false) }

// Raised reports whether cancellation has been requested.
func (f *CancelFlag) Raised() bool { return f.raised.Load() }

// AgentConfig carries the knobs for one agent instance.
type AgentConfig struct {
	MaxSteps     int
	TokenLimit   int
	Retry        RetryPolicy
	WorkspaceDir string
}

// DefaultMaxSteps bounds the reason-act loop unless configured.
const DefaultMaxSteps = 50

// PromptExtender contributes extra system-prompt text for each LLM
// call, typically from the plugin registry. The extension is applied to
// the outgoing payload only; history keeps the base system prompt.
type PromptExtender func(history []Message) string

// ReplyRewriter is the reply-handler chain invoked over every assistant
// text. It may rewrite the text and trigger side effects but never
// touches tool calls.
type ReplyRewriter func(ctx context.Context, text string, history []Message) string

// Agent is the reason-act controller for one conversation: it
// alternates LLM calls and tool executions until the model produces a
// terminal answer or the step budget runs out.
type Agent struct {
	llm     LLMClient
	tools   map[string]Tool
	context *ContextManager
	cfg     AgentConfig
	runlog  *RunLogger
	cancel  *CancelFlag
	logger  *log.Logger

	extendPrompt PromptExtender
	rewriteReply ReplyRewriter
}

// NewAgent builds an agent bound to a workspace directory and tool
// list. The workspace is created if absent and announced in the system
// prompt so relative paths resolve predictably.
func NewAgent(llm LLMClient, systemPrompt string, tools []Tool, cfg AgentConfig, logger *log.Logger) *Agent {
	if cfg.MaxSteps < 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = DefaultTokenLimit
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[agent] ", log.LstdFlags)
	}
	if cfg.WorkspaceDir != "" {
		_ = os.MkdirAll(cfg.WorkspaceDir, 0755)
		if !strings.Contains(systemPrompt, "Current Workspace") {
			systemPrompt += fmt.Sprintf("\n\n## Current Workspace\nYou are currently working in: `%s`\nAll relative paths will be resolved relative to this directory.", cfg.WorkspaceDir)
		}
	}

	toolMap := make(map[string]Tool, len(tools))
	for _, t := range tools {
		toolMap[t.Name()] = t
	}

	return &Agent{
		llm:     llm,
		tools:   toolMap,
		context: NewContextManager(systemPrompt, llm, tools, cfg.TokenLimit, logger),
		cfg:     cfg,
		runlog:  NewRunLogger(cfg.WorkspaceDir),
		cancel:  &CancelFlag{},
		logger:  logger,
	}
}

// SetPromptExtender installs the plugin prompt-extension hook.
func (a *Agent) SetPromptExtender(fn PromptExtender) { a.extendPrompt = fn }

// SetReplyRewriter installs the reply-handler chain hook.
func (a *Agent) SetReplyRewriter(fn ReplyRewriter) { a.rewriteReply = fn }

// CancelFlag returns the session-owned cancellation flag for this agent.
func (a *Agent) CancelFlag() *CancelFlag { return a.cancel }

// AppendUserMessage appends a user turn to the conversation.
func (a *Agent) AppendUserMessage(text string) { a.context.AppendUser(text) }

// History returns a stable copy of the conversation history.
func (a *Agent) History() []Message { return a.context.HistorySnapshot() }

// Context returns the agent's context manager.
func (a *Agent) Context() *ContextManager { return a.context }

// Run drives the reason-act loop until the model emits a terminal
// answer (no tool calls), the step budget is exhausted, or the session
// is cancelled. The returned string is either the final assistant
// answer or a distinguished terminal error message; Run itself never
// fails.
func (a *Agent) Run(ctx context.Context) string {
	a.runlog.StartRun()
	a.logger.Printf("run started, log file: %s", a.runlog.Path())

	for step := 0; step < a.cfg.MaxSteps; step++ {
		if a.cancelled(ctx) {
			return a.terminateCancelled()
		}

		a.context.MaybeSummarise(ctx)
		if a.cancelled(ctx) {
			return a.terminateCancelled()
		}

		messages, schemas := a.context.Context()
		outgoing := a.withPromptExtension(messages)
		a.runlog.LogRequest(outgoing, schemas)

		resp, err := Retry(ctx, a.cfg.Retry, func(ctx context.Context) (LLMResponse, error) {
			return a.llm.Generate(ctx, outgoing, schemas)
		})
		if err != nil {
			var exhausted *RetriesExhaustedError
			if errors.As(err, &exhausted) {
				return fmt.Sprintf("LLM call failed after %d retries: %v", exhausted.Attempts, exhausted.LastCause)
			}
			return "LLM call failed: " + err.Error()
		}

		// Cancellation during the HTTP round trip: drop the response
		// before it reaches history, so no assistant turn is left with
		// unanswered tool calls.
		if a.cancelled(ctx) {
			return a.terminateCancelled()
		}

		a.context.UpdateAPITokens(resp)
		a.runlog.LogResponse(resp)
		a.context.AppendAssistant(resp)

		content := resp.Content
		if a.rewriteReply != nil {
			content = a.rewriteReply(ctx, content, a.context.HistorySnapshot())
		}

		if len(resp.ToolCalls) == 0 {
			return content
		}

		// Execute the assistant's tool calls strictly in order; each
		// failure stays local to its own tool message.
		for _, call := range resp.ToolCalls {
			result := a.executeToolCall(ctx, call)
			a.runlog.LogToolResult(call.Name, call.Args, result)
			a.context.AppendTool(result, call.ID, call.Name)
		}
	}

	return fmt.Sprintf("Task couldn't be completed after %d steps.", a.cfg.MaxSteps)
}

// terminateCancelled consumes the cancel flag so the next run starts
// clean, then yields the distinguished terminal message.
func (a *Agent) terminateCancelled() string {
	a.cancel.Lower()
	return CancelledMessage
}

func (a *Agent) cancelled(ctx context.Context) bool {
	if a.cancel.Raised() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// withPromptExtension returns the outgoing message list with plugin
// prompt extensions appended to the system message. History itself is
// left untouched.
func (a *Agent) withPromptExtension(messages []Message) []Message {
	if a.extendPrompt == nil || len(messages) == 0 {
		return messages
	}
	ext := a.extendPrompt(messages)
	if ext == "" {
		return messages
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	system := out[0]
	system.Content = system.Content + "\n\n" + ext
	out[0] = system
	return out
}

// executeToolCall resolves and runs one tool call, converting every
// failure mode (unknown tool, bad arguments, panic) into a failed
// ToolResult so the loop always continues.
func (a *Agent) executeToolCall(ctx context.Context, call ToolCall) ToolResult {
	tool, ok := a.tools[call.Name]
	if !ok {
		return ToolResult{Success: false, Error: "Unknown tool: " + call.Name}
	}
	if err := ValidateToolArgs(tool.InputSchema(), call.Args); err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("Invalid arguments for tool %s: %v", call.Name, err)}
	}
	return safeExecute(ctx, tool, call.Args)
}

func safeExecute(ctx context.Context, t Tool, args map[string]any) (res ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ToolResult{
				Success: false,
				Error:   fmt.Sprintf("Tool execution failed: %T: %v\n\nStack trace:\n%s", r, r, debug.Stack()),
			}
		}
	}()
	return t.Execute(ctx, args)
}
