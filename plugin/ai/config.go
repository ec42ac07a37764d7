package ai

import (
	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/internal/profile"
)

// DefaultMaxConcurrency is the default number of in-flight oracle sub-requests.
const DefaultMaxConcurrency = 5

// Config represents AI configuration.
type Config struct {
	LLM    LLMConfig
	Vision LLMConfig
	Oracle OracleConfig
}

// LLMConfig represents an OpenAI-compatible chat model.
type LLMConfig struct {
	Provider    string // deepseek, openai, siliconflow, dashscope, ollama
	Model       string // deepseek-chat
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 512
	Temperature float32 // default: 0.2
	MaxRetries  int     // default: 2
}

// OracleConfig controls fan-out towards the models.
type OracleConfig struct {
	MaxConcurrency int
	// RequestsPerSecond throttles sub-requests. Zero disables throttling.
	RequestsPerSecond float64
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		LLM: LLMConfig{
			Provider:    p.AILLMProvider,
			Model:       p.AILLMModel,
			APIKey:      p.AILLMAPIKey,
			BaseURL:     p.AILLMBaseURL,
			MaxTokens:   512,
			Temperature: 0.2,
			MaxRetries:  2,
		},
		Vision: LLMConfig{
			Provider:    "openai",
			Model:       p.AIVisionModel,
			APIKey:      p.AIVisionAPIKey,
			BaseURL:     p.AIVisionBaseURL,
			MaxTokens:   1024,
			Temperature: 0.2,
			MaxRetries:  2,
		},
		Oracle: OracleConfig{
			MaxConcurrency:    p.MaxConcurrency,
			RequestsPerSecond: p.OracleQPS,
		},
	}
	if cfg.Oracle.MaxConcurrency <= 0 {
		cfg.Oracle.MaxConcurrency = DefaultMaxConcurrency
	}
	return cfg
}

// Validate validates a chat model configuration.
func (c *LLMConfig) Validate() error {
	if c.Provider == "" {
		return terrors.NewConfigurationError("LLM provider is required")
	}
	if c.Model == "" {
		return terrors.NewConfigurationError("LLM model is required")
	}
	if c.Provider != "ollama" && c.APIKey == "" {
		return terrors.NewConfigurationError("LLM API key is required").WithContext("provider", c.Provider)
	}
	return nil
}

// Validate validates the labeling configuration. Vision settings are checked
// only when a vision describer is built.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.Oracle.MaxConcurrency <= 0 {
		return terrors.NewConfigurationError("oracle max concurrency must be positive")
	}
	if c.Oracle.RequestsPerSecond < 0 {
		return terrors.NewConfigurationError("oracle requests per second must not be negative")
	}
	return nil
}
