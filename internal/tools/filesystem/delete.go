package filesystem

import (
	"context"
	"fmt"

	"github.com/ye-linghua/linghua/internal/engine"
)

// DeleteFileTool removes a single file from the session workspace.
// Directories are refused.
type DeleteFileTool struct {
	sandbox *Sandbox
	fs      FS
}

func NewDeleteFileTool(sandbox *Sandbox) *DeleteFileTool {
	return &DeleteFileTool{sandbox: sandbox, fs: osFS{}}
}

func (t *DeleteFileTool) Name() string { return "delete_file" }

func (t *DeleteFileTool) Description() string {
	return "Delete a file from the workspace. Refuses to delete directories."
}

func (t *DeleteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file to delete, relative to the workspace",
			},
		},
		"required": []any{"path"},
	}
}

func (t *DeleteFileTool) Execute(ctx context.Context, args map[string]any) engine.ToolResult {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return failure("path must be a non-empty string")
	}

	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return failure(err.Error())
	}

	info, err := t.fs.Stat(resolved)
	if err != nil {
		return failure(fmt.Sprintf("stat %s: %v", path, err))
	}
	if info.IsDir() {
		return failure(fmt.Sprintf("%s is a directory", path))
	}

	if err := t.fs.Remove(resolved); err != nil {
		return failure(fmt.Sprintf("deleting %s: %v", path, err))
	}
	return engine.ToolResult{Success: true, Content: "Deleted " + path}
}
