package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates an inference provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai", "gemini":
		return nil
	default:
		return fmt.Errorf("unsupported provider: %s (must be anthropic, openai, or gemini)", provider)
	}
}

// Validate checks the whole configuration for startup-time errors
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := v.ValidateProvider(cfg.Agent.Provider); err != nil {
		return err
	}
	if err := v.ValidateAPIKey(cfg.Agent.APIKey, cfg.Agent.Provider); err != nil {
		return err
	}
	if cfg.Agent.Model == "" {
		return fmt.Errorf("agent model cannot be empty")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 1 {
		return fmt.Errorf("agent temperature must be between 0 and 1")
	}
	if cfg.Agent.MaxTokens < 0 {
		return fmt.Errorf("agent max tokens cannot be negative")
	}
	if cfg.Agent.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("agent request timeout must be positive")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if cfg.History.Dir == "" {
		return fmt.Errorf("history directory cannot be empty")
	}
	if cfg.History.RetentionDays <= 0 {
		return fmt.Errorf("history retention days must be positive")
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be between 0 and 1")
	}

	return nil
}
