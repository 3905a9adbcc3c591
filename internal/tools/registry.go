package tools

import (
	"github.com/ye-linghua/linghua/internal/engine"
	"github.com/ye-linghua/linghua/internal/tools/filesystem"
)

// Factory builds per-session tool lists. Workspace-bound tools are
// constructed fresh against the session's working directory so
// concurrent sessions never share file state; stateless tools are
// reused by reference.
type Factory struct {
	stateless []engine.Tool
}

// NewFactory creates a factory. The given tools must be safe to share
// across sessions.
func NewFactory(stateless ...engine.Tool) *Factory {
	return &Factory{stateless: stateless}
}

// ForWorkspace returns the tool list for a session rooted at cwd.
func (f *Factory) ForWorkspace(cwd string) ([]engine.Tool, error) {
	sandbox, err := filesystem.NewSandbox(cwd)
	if err != nil {
		return nil, err
	}

	list := []engine.Tool{
		filesystem.NewReadFileTool(sandbox),
		filesystem.NewWriteFileTool(sandbox),
		filesystem.NewListFilesTool(sandbox),
		filesystem.NewDeleteFileTool(sandbox),
	}
	return append(list, f.stateless...), nil
}
