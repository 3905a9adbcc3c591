package filesystem

import (
	"context"
	"fmt"
	"strings"

	"github.com/ye-linghua/linghua/internal/engine"
)

// ListFilesTool lists directory entries in the session workspace.
type ListFilesTool struct {
	sandbox *Sandbox
	fs      FS
}

func NewListFilesTool(sandbox *Sandbox) *ListFilesTool {
	return &ListFilesTool{sandbox: sandbox, fs: osFS{}}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List the entries of a directory. Directories are suffixed with '/'. Defaults to the workspace root."
}

func (t *ListFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list, relative to the workspace (default: workspace root)",
			},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]any) engine.ToolResult {
	path := "."
	if p, ok := args["path"].(string); ok && p != "" {
		path = p
	}

	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return failure(err.Error())
	}

	entries, err := t.fs.ReadDir(resolved)
	if err != nil {
		return failure(fmt.Sprintf("listing %s: %v", path, err))
	}
	if len(entries) == 0 {
		return engine.ToolResult{Success: true, Content: "(empty directory)"}
	}

	var b strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString(name + "\n")
	}
	return engine.ToolResult{Success: true, Content: strings.TrimRight(b.String(), "\n")}
}
