package engine

import (
	"errors"
	"fmt"
)

// ConfigError indicates a misconfiguration (missing credentials, bad
// provider tag). It is fatal at session creation.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Msg }

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// LLMError wraps a transport or provider-level failure from an LLM call.
// Retryable distinguishes soft faults (5xx, connection resets, parse
// failures, soft provider codes) from fatal ones (auth, quota,
// model-unsupported). Hint carries the human-readable annotation for
// auth/quota codes; it rides along without changing routing.
type LLMError struct {
	Retryable bool
	Code      int // HTTP status, or provider status code when the envelope carried one
	Message   string
	Hint      string
}

func (e *LLMError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s\n\n%s", e.Message, e.Hint)
	}
	return e.Message
}

// IsRetryable reports whether the error should be handed to the retry
// policy. Unknown error types are treated as retryable transport faults;
// typed fatal errors opt out explicitly.
func IsRetryable(err error) bool {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	return true
}

// RetriesExhaustedError is returned by the retry policy after the final
// attempt fails. The agent loop formats it into a distinguished terminal
// message.
type RetriesExhaustedError struct {
	Attempts  int
	LastCause error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastCause)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.LastCause }

// IsRetriesExhausted checks whether err is a RetriesExhaustedError.
func IsRetriesExhausted(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}
