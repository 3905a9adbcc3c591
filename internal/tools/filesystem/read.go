package filesystem

import (
	"context"
	"fmt"
	"strings"

	"github.com/ye-linghua/linghua/internal/engine"
)

// maxReadLines caps read_file output; longer files are truncated with a
// notice so a single read cannot flood the context window.
const maxReadLines = 2000

// ReadFileTool reads a file from the session workspace.
type ReadFileTool struct {
	sandbox *Sandbox
	fs      FS
}

func NewReadFileTool(sandbox *Sandbox) *ReadFileTool {
	return &ReadFileTool{sandbox: sandbox, fs: osFS{}}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. The path is resolved relative to the workspace directory."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file to read, relative to the workspace",
			},
		},
		"required": []any{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) engine.ToolResult {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return failure("path must be a non-empty string")
	}

	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return failure(err.Error())
	}

	data, err := t.fs.ReadFile(resolved)
	if err != nil {
		return failure(fmt.Sprintf("reading %s: %v", path, err))
	}

	content := string(data)
	if lines := strings.Split(content, "\n"); len(lines) > maxReadLines {
		content = strings.Join(lines[:maxReadLines], "\n") +
			fmt.Sprintf("\n\n[truncated: file has %d lines, showing first %d]", len(lines), maxReadLines)
	}
	return engine.ToolResult{Success: true, Content: content}
}

func failure(msg string) engine.ToolResult {
	return engine.ToolResult{Success: false, Error: msg}
}
