package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main taskdeck configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Database
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Agent
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// History
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// DatabaseConfig holds task store configuration
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// AgentConfig holds inference provider and orchestration configuration
type AgentConfig struct {
	Provider              string  `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	Model                 string  `json:"model" mapstructure:"model"`
	APIKey                string  `json:"api_key" mapstructure:"api_key"`
	Temperature           float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens             int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries            int     `json:"max_retries" mapstructure:"max_retries"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

// HistoryConfig holds conversation history configuration
type HistoryConfig struct {
	Dir              string `json:"dir" mapstructure:"dir"`
	RetentionDays    int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule  string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	MaxEntriesPerKey int    `json:"max_entries_per_key" mapstructure:"max_entries_per_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			RateLimitPerMinute: 120,
		},
		Agent: AgentConfig{
			Provider:              "gemini",
			Model:                 "gemini-2.5-flash",
			Temperature:           0.7,
			MaxTokens:             2048,
			MaxRetries:            3,
			RequestTimeoutSeconds: 60,
		},
		History: HistoryConfig{
			RetentionDays:    7,
			CleanupSchedule:  "0 3 * * *",
			MaxEntriesPerKey: 500,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Redaction:  true,
			MaxSizeMB:  50,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation with the API key masked
func (c *Config) String() string {
	clone := *c
	if clone.Agent.APIKey != "" {
		clone.Agent.APIKey = "***"
	}
	data, err := json.MarshalIndent(&clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}
