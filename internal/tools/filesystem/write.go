package filesystem

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ye-linghua/linghua/internal/engine"
)

// WriteFileTool creates or overwrites a file in the session workspace,
// creating parent directories as needed.
type WriteFileTool struct {
	sandbox *Sandbox
	fs      FS
}

func NewWriteFileTool(sandbox *Sandbox) *WriteFileTool {
	return &WriteFileTool{sandbox: sandbox, fs: osFS{}}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it (and any parent directories) if needed. Overwrites existing content."
}

func (t *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file to write, relative to the workspace",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		"required": []any{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) engine.ToolResult {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return failure("path must be a non-empty string")
	}
	content, ok := args["content"].(string)
	if !ok {
		return failure("content must be a string")
	}

	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return failure(err.Error())
	}
	if err := t.fs.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return failure(fmt.Sprintf("creating parent directory for %s: %v", path, err))
	}
	if err := t.fs.WriteFile(resolved, []byte(content), 0644); err != nil {
		return failure(fmt.Sprintf("writing %s: %v", path, err))
	}
	return engine.ToolResult{Success: true, Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), path)}
}
