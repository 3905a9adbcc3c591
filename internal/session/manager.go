package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ye-linghua/linghua/internal/engine"
	"github.com/ye-linghua/linghua/internal/plugins"
	"github.com/ye-linghua/linghua/internal/tools"
)

// MCPServerConfig describes one external tool server attached to a
// session. The runtime stores it on the session; the concrete client
// lives outside this package.
type MCPServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// State is one live conversation: its agent, workspace, and
// cancellation flag.
type State struct {
	ID         string
	UserID     string
	Cwd        string
	Agent      *engine.Agent
	MCPServers []MCPServerConfig

	// runMu serialises Run calls so a session has at most one active
	// run.
	runMu sync.Mutex
}

// Cancel raises the session's cancel flag.
func (s *State) Cancel() { s.Agent.CancelFlag().Raise() }

// Manager owns the table of live sessions. The mutex guards table
// mutations only; runs happen outside it so sessions execute in
// parallel.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*State

	llm          engine.LLMClient
	toolFactory  *tools.Factory
	registry     *plugins.Registry
	systemPrompt string
	platform     string
	baseCfg      engine.AgentConfig
	logger       *log.Logger
}

// NewManager creates a session manager. baseCfg supplies the step and
// token budgets every new agent starts from; its WorkspaceDir is
// overridden per session.
func NewManager(llm engine.LLMClient, toolFactory *tools.Factory, registry *plugins.Registry,
	systemPrompt, platform string, baseCfg engine.AgentConfig, logger *log.Logger) *Manager {
	return &Manager{
		sessions:     make(map[string]*State),
		llm:          llm,
		toolFactory:  toolFactory,
		registry:     registry,
		systemPrompt: systemPrompt,
		platform:     platform,
		baseCfg:      baseCfg,
		logger:       logger,
	}
}

// Create builds a new live session bound to cwd. Stateless tools are
// shared; workspace-bound tools are constructed fresh against cwd.
// Fails if the id is already live.
func (m *Manager) Create(id, userID, cwd string, mcpServers []MCPServerConfig) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session %s already exists", id)
	}

	toolList, err := m.toolFactory.ForWorkspace(cwd)
	if err != nil {
		return nil, fmt.Errorf("building tools for session %s: %w", id, err)
	}

	cfg := m.baseCfg
	cfg.WorkspaceDir = cwd
	agent := engine.NewAgent(m.llm, m.systemPrompt, toolList, cfg, m.logger)

	state := &State{
		ID:         id,
		UserID:     userID,
		Cwd:        cwd,
		Agent:      agent,
		MCPServers: mcpServers,
	}

	if m.registry != nil {
		agent.SetPromptExtender(func(history []engine.Message) string {
			return m.registry.PromptExtension(m.pluginContext(state, history))
		})
		agent.SetReplyRewriter(func(ctx context.Context, text string, history []engine.Message) string {
			return m.registry.HandleReply(ctx, text, m.pluginContext(state, history))
		})
	}

	m.sessions[id] = state
	m.logger.Printf("session created: %s (cwd: %s)", id, cwd)
	return state, nil
}

func (m *Manager) pluginContext(state *State, history []engine.Message) *plugins.Context {
	pctx := &plugins.Context{
		Messages:  history,
		Platform:  m.platform,
		UserID:    state.UserID,
		SessionID: state.ID,
	}
	pctx.Extra = m.registry.ContextExtensions(pctx)
	return pctx
}

// Get returns the live session for id, nil when absent.
func (m *Manager) Get(id string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Remove cancels the session and drops it from the table. In-flight
// work finishes on its own; its result is discarded by the caller.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	state.Cancel()
	m.logger.Printf("session removed: %s", id)
	return true
}

// Cancel raises a session's cancel flag without removing it.
func (m *Manager) Cancel(id string) bool {
	state := m.Get(id)
	if state == nil {
		return false
	}
	state.Cancel()
	return true
}

// ErrRunInProgress is returned when a session already has an active
// run.
var ErrRunInProgress = fmt.Errorf("session already has an active run")

// Run appends the user message and drives the agent loop to its
// terminal answer. At most one run per session executes at a time;
// concurrent callers get ErrRunInProgress instead of queueing.
func (m *Manager) Run(ctx context.Context, id, message string) (string, error) {
	state := m.Get(id)
	if state == nil {
		return "", fmt.Errorf("session %s not found", id)
	}

	if !state.runMu.TryLock() {
		return "", ErrRunInProgress
	}
	defer state.runMu.Unlock()

	state.Agent.AppendUserMessage(message)
	return state.Agent.Run(ctx), nil
}
