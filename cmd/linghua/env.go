package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ye-linghua/linghua/internal/config"
	"github.com/ye-linghua/linghua/internal/engine"
	"github.com/ye-linghua/linghua/internal/plugins"
	"github.com/ye-linghua/linghua/internal/plugins/notify"
	"github.com/ye-linghua/linghua/internal/plugins/timer"
	"github.com/ye-linghua/linghua/internal/providers"
	"github.com/ye-linghua/linghua/internal/session"
	"github.com/ye-linghua/linghua/internal/tools"
)

const systemPrompt = `You are Linghua, a helpful autonomous assistant.
You reason step by step, use the available tools when they help, and
reply with a clear final answer when the task is done.`

type runtimeEnv struct {
	Service *session.Service
	Model   string

	registry *plugins.Registry
	store    *session.Store
	cancelFn context.CancelFunc
}

func (r *runtimeEnv) Close() {
	if r.cancelFn != nil {
		r.cancelFn()
	}
	if r.registry != nil {
		r.registry.ShutdownAll(context.Background())
	}
	if r.store != nil {
		r.store.Close()
	}
}

func prepareRuntimeEnv(ctx context.Context, workspaceFlag, pluginsFlag string) (*runtimeEnv, error) {
	logger := log.New(os.Stderr, "[linghua] ", log.LstdFlags)

	// Load user configuration and fold it into the environment; real
	// environment variables keep precedence.
	userConfig := &config.Config{}
	cfgManager, err := config.NewManager()
	if err != nil {
		logger.Printf("config manager unavailable: %v", err)
	} else if cfg, err := cfgManager.Load(); err != nil {
		logger.Printf("failed to load user config: %v", err)
	} else {
		userConfig = cfg
		if cfgManager.Exists() {
			logger.Printf("user config loaded from: %s", cfgManager.GetConfigPath())
		}
	}
	userConfig.ApplyEnv()

	llm, model, err := providers.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	logger.Printf("LLM provider ready (model: %s)", model)

	workspaceRoot, err := resolveWorkspaceRoot(workspaceFlag, userConfig)
	if err != nil {
		return nil, err
	}
	logger.Printf("workspace root: %s", workspaceRoot)

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".ye-linghua")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	registry, watchCancel, err := buildPlugins(ctx, dataDir, pluginsFlag, userConfig, logger)
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(ctx, filepath.Join(dataDir, "chat.db"))
	if err != nil {
		watchCancel()
		registry.ShutdownAll(context.Background())
		return nil, fmt.Errorf("opening chat store: %w", err)
	}

	agentCfg := engine.AgentConfig{
		MaxSteps:   userConfig.MaxSteps,
		TokenLimit: userConfig.TokenLimit,
		Retry:      engine.DefaultRetryPolicy(),
	}
	if agentCfg.MaxSteps == 0 {
		agentCfg.MaxSteps = engine.DefaultMaxSteps
	}

	manager := session.NewManager(llm, tools.NewFactory(), registry,
		systemPrompt, "cli", agentCfg, logger)

	return &runtimeEnv{
		Service:  session.NewService(store, manager, workspaceRoot),
		Model:    model,
		registry: registry,
		store:    store,
		cancelFn: watchCancel,
	}, nil
}

func resolveWorkspaceRoot(flagValue string, userConfig *config.Config) (string, error) {
	root := flagValue
	if root == "" {
		root = userConfig.WorkspaceRoot
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		root = filepath.Join(cwd, "workspace")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace root: %w", err)
	}
	return abs, nil
}

// buildPlugins assembles the registry: built-in timer and notification
// plugins plus any shell plugins discovered in the plugin directory,
// with hot reload while the process runs.
func buildPlugins(ctx context.Context, dataDir, pluginsFlag string, userConfig *config.Config, logger *log.Logger) (*plugins.Registry, context.CancelFunc, error) {
	registry := plugins.NewRegistry(logger)

	notifier := notify.New(logger)
	if err := notifier.Initialise(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialising notification plugin: %w", err)
	}
	registry.Register(notifier)

	timerPlugin, err := timer.New(filepath.Join(dataDir, "timers.json"), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating timer plugin: %w", err)
	}
	timerPlugin.SetCallback(func(task *timer.Task) {
		fmt.Printf("\n⏰ Timer fired: %s\n", task.Reason)
		if err := notifier.Deliver(ctx, "Timer", task.Reason); err != nil {
			logger.Printf("timer notification: %v", err)
		}
	})
	if err := timerPlugin.Initialise(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialising timer plugin: %w", err)
	}
	registry.Register(timerPlugin)

	pluginsDir := pluginsFlag
	if pluginsDir == "" {
		pluginsDir = userConfig.PluginsDir
	}
	if pluginsDir == "" {
		pluginsDir = filepath.Join(dataDir, "plugins")
	}

	loader := plugins.NewLoader(pluginsDir, registry, logger)
	if err := loader.LoadAll(ctx); err != nil {
		logger.Printf("loading shell plugins: %v", err)
	}
	scripts := len(registry.ByType(plugins.TypeShell)) + len(registry.ByType(plugins.TypePowerShell))
	logger.Printf("plugins ready: %d total, %d script (dir: %s)", len(registry.All()), scripts, pluginsDir)

	watchCtx, cancel := context.WithCancel(ctx)
	if err := loader.Watch(watchCtx); err != nil {
		logger.Printf("plugin hot reload disabled: %v", err)
	}

	return registry, cancel, nil
}
