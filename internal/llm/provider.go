// Package llm wraps the configured LLM provider behind the typed
// operations the pipeline needs: strategy, per-article and batch
// analysis, and synthesis. Every call routes through the rate-limited
// executor.
package llm

import (
	"context"
	"time"

	"github.com/imedina/evidens/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete performs one completion turn
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is one LLM turn
type CompletionRequest struct {
	// System sets the assistant role for the turn
	System string

	// Prompt is the rendered template for this operation
	Prompt string

	// Model overrides the configured model when non-empty
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	// Temperature tunes sampling; appraisals use low values
	Temperature float64
}

// CompletionResponse is the provider's reply
type CompletionResponse struct {
	// Text is the raw completion text
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama or an OpenAI proxy)
	BaseURL string

	// Timeout per API request
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		Timeout:   120 * time.Second,
		MaxTokens: 4000,
	}
}

// ConfigFrom merges the application config sections into a provider config
func ConfigFrom(llmCfg model.LLMConfig, httpCfg model.HTTPConfig) Config {
	cfg := DefaultConfig()
	if llmCfg.Provider != "" {
		cfg.Provider = llmCfg.Provider
	}
	cfg.Model = llmCfg.Model
	cfg.APIKey = llmCfg.APIKey
	cfg.BaseURL = llmCfg.BaseURL
	if llmCfg.Timeout > 0 {
		cfg.Timeout = llmCfg.Timeout
	}
	if llmCfg.MaxTokens > 0 {
		cfg.MaxTokens = llmCfg.MaxTokens
	}
	cfg.HTTPProxy = httpCfg.HTTPProxy
	cfg.HTTPSProxy = httpCfg.HTTPSProxy
	cfg.NoProxy = httpCfg.NoProxy
	return cfg
}
