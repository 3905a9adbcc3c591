package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the user's persistent configuration preferences.
// Environment variables take precedence over these values at startup.
type Config struct {
	LLMProvider string `json:"llm_provider,omitempty"` // minimax, anthropic, openai, lmstudio
	APIKey      string `json:"api_key,omitempty"`      // The API key for the selected provider
	Model       string `json:"model,omitempty"`        // Default model name
	BaseURL     string `json:"base_url,omitempty"`     // Optional override for API base URL

	MaxSteps   int `json:"max_steps,omitempty"`   // Reason-act step budget per run
	TokenLimit int `json:"token_limit,omitempty"` // Context window budget before summarisation

	PluginsDir    string `json:"plugins_dir,omitempty"`    // Directory scanned for shell plugins
	WorkspaceRoot string `json:"workspace_root,omitempty"` // Root under which session workspaces live
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a configuration manager rooted in the user config
// directory.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "linghua")), nil
}

// NewManagerAt creates a configuration manager rooted in an explicit
// directory.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions
// (0600), since it may contain an API key.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}

// ApplyEnv exports the file-backed provider settings into the process
// environment for any that are not already set, so the provider factory
// sees a single source of truth. Variables set by the user (or .env)
// win over the config file.
func (cfg *Config) ApplyEnv() {
	setIfEmpty("LLM_PROVIDER", cfg.LLMProvider)

	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "minimax"
	}
	switch provider {
	case "anthropic":
		setIfEmpty("ANTHROPIC_API_KEY", cfg.APIKey)
		setIfEmpty("ANTHROPIC_MODEL", cfg.Model)
		setIfEmpty("ANTHROPIC_API_BASE", cfg.BaseURL)
	case "openai":
		setIfEmpty("OPENAI_API_KEY", cfg.APIKey)
		setIfEmpty("OPENAI_MODEL", cfg.Model)
		setIfEmpty("OPENAI_BASE_URL", cfg.BaseURL)
	case "lmstudio":
		setIfEmpty("LMSTUDIO_MODEL", cfg.Model)
		setIfEmpty("LMSTUDIO_BASE_URL", cfg.BaseURL)
	default:
		setIfEmpty("MINIMAX_API_KEY", cfg.APIKey)
		setIfEmpty("MINIMAX_MODEL", cfg.Model)
		setIfEmpty("MINIMAX_API_BASE", cfg.BaseURL)
	}
}

func setIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
