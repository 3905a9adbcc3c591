package providers

import (
	"os"

	"github.com/ye-linghua/linghua/internal/engine"
)

// NewClientFromEnv creates an engine.LLMClient based on environment
// variables. LLM_PROVIDER selects the backend; each backend has its own
// key/model/base variables with sensible defaults. Returns the client
// and the resolved model name.
func NewClientFromEnv() (engine.LLMClient, string, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "minimax"
	}

	switch provider {
	case "minimax":
		apiKey := os.Getenv("MINIMAX_API_KEY")
		if apiKey == "" {
			return nil, "", engine.NewConfigError("MINIMAX_API_KEY not set")
		}
		model := envOr("MINIMAX_MODEL", "MiniMax-M2")
		base := envOr("MINIMAX_API_BASE", "https://api.minimax.io/anthropic")

		client, err := NewBlockClient(base, apiKey, model)
		if err != nil {
			return nil, "", err
		}
		return client, model, nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", engine.NewConfigError("ANTHROPIC_API_KEY not set")
		}
		model := envOr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514")
		base := envOr("ANTHROPIC_API_BASE", "https://api.anthropic.com")

		client, err := NewBlockClient(base, apiKey, model)
		if err != nil {
			return nil, "", err
		}
		return client, model, nil

	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, "", engine.NewConfigError("OPENAI_API_KEY not set")
		}
		model := envOr("OPENAI_MODEL", "gpt-4o-mini")
		base := envOr("OPENAI_BASE_URL", "https://api.openai.com/v1")

		client, err := NewCompletionsClient(base, apiKey, model)
		if err != nil {
			return nil, "", err
		}
		return client, model, nil

	case "lmstudio":
		// Local server; the key is ignored by LM Studio but the wire
		// still carries one.
		base := envOr("LMSTUDIO_BASE_URL", "http://localhost:1234/v1")
		model := envOr("LMSTUDIO_MODEL", "local-model")

		client, err := NewCompletionsClient(base, "lm-studio", model)
		if err != nil {
			return nil, "", err
		}
		return client, model, nil

	default:
		return nil, "", engine.NewConfigError("unknown LLM_PROVIDER %q (supported: minimax, anthropic, openai, lmstudio)", provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
