package plugins

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Script actions the runtime issues over the stdin/stdout contract.
const (
	actionGetPrompt  = "get_prompt"
	actionGetContext = "get_context"
)

// scriptTimeout bounds one plugin script invocation.
const scriptTimeout = 10 * time.Second

// ShellPlugin wraps a .sh or .ps1 script as a plugin. The contract is
// JSON over stdio: the runtime writes {"action": A, "data": {...}} to
// stdin; the script prints a JSON object whose "success" field drives
// acceptance. Failures degrade to an empty contribution.
type ShellPlugin struct {
	meta   Metadata
	path   string
	logger *log.Logger
}

// NewShellPlugin wraps the script at path. Metadata defaults are
// derived from the file name and refined from PLUGIN_* header comments
// during Initialise.
func NewShellPlugin(path string, logger *log.Logger) *ShellPlugin {
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))

	t := TypeShell
	if strings.EqualFold(filepath.Ext(base), ".ps1") {
		t = TypePowerShell
	}

	return &ShellPlugin{
		meta: Metadata{
			ID:          id,
			Name:        id,
			Version:     "0.0.0",
			Description: "Shell script plugin: " + base,
			Type:        t,
			Enabled:     true,
		},
		path:   path,
		logger: logger,
	}
}

func (p *ShellPlugin) Metadata() *Metadata { return &p.meta }

// Path returns the wrapped script path.
func (p *ShellPlugin) Path() string { return p.path }

// Initialise reads PLUGIN_* metadata comments from the script header:
//
//	# PLUGIN_ID: my-plugin
//	# PLUGIN_NAME: My Plugin
//	# PLUGIN_VERSION: 1.0.0
//	# PLUGIN_DESCRIPTION: Does something useful
func (p *ShellPlugin) Initialise(ctx context.Context) error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("opening plugin script: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan() && i < 20; i++ {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimLeft(line, "#")
		line = strings.TrimSpace(line)

		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.HasPrefix(key, "PLUGIN_") {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimPrefix(key, "PLUGIN_") {
		case "ID":
			p.meta.ID = value
		case "NAME":
			p.meta.Name = value
		case "VERSION":
			p.meta.Version = value
		case "DESCRIPTION":
			p.meta.Description = value
		}
	}
	return scanner.Err()
}

func (p *ShellPlugin) Shutdown(ctx context.Context) error { return nil }

// PromptExtension asks the script for its prompt contribution.
func (p *ShellPlugin) PromptExtension(pctx *Context) string {
	result, err := p.execute(context.Background(), actionGetPrompt, contextData(pctx))
	if err != nil {
		p.logger.Printf("plugin %s get_prompt: %v", p.meta.ID, err)
		return ""
	}
	prompt, _ := result["prompt"].(string)
	return prompt
}

// ContextExtension asks the script for extra context data.
func (p *ShellPlugin) ContextExtension(pctx *Context) map[string]any {
	result, err := p.execute(context.Background(), actionGetContext, contextData(pctx))
	if err != nil {
		p.logger.Printf("plugin %s get_context: %v", p.meta.ID, err)
		return nil
	}
	extra, _ := result["context"].(map[string]any)
	return extra
}

// ReplyHandlers is empty for script plugins; they only contribute to
// the prompt and context.
func (p *ShellPlugin) ReplyHandlers() []ReplyHandler { return nil }

// execute runs the script with one action and parses its JSON reply.
func (p *ShellPlugin) execute(ctx context.Context, action string, data map[string]any) (map[string]any, error) {
	input, err := json.Marshal(map[string]any{"action": action, "data": data})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if p.meta.Type == TypePowerShell {
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-File", p.path)
	} else {
		cmd = exec.CommandContext(ctx, "bash", p.path)
	}
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("script failed: %v (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	var result map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("script output is not JSON: %v", err)
	}
	if success, _ := result["success"].(bool); !success {
		return nil, fmt.Errorf("script reported failure: %v", result["error"])
	}
	return result, nil
}

// contextData flattens the plugin context for the script.
func contextData(pctx *Context) map[string]any {
	if pctx == nil {
		return map[string]any{}
	}
	return map[string]any{
		"platform":   pctx.Platform,
		"user_id":    pctx.UserID,
		"session_id": pctx.SessionID,
		"summary":    pctx.MessageSummary(),
	}
}
