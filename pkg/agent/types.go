package agent

import (
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"

	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// Message is a single entry in the conversation sent to the model.
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolResult pairs a tool call with its execution outcome.
type ToolResult struct {
	ToolCallID string              `json:"tool_call_id"`
	Name       string              `json:"name"`
	Result     toolexecutor.Result `json:"result"`
}

// TokenUsage tracks token consumption for a provider call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TurnResult is the outcome of processing one user message.
type TurnResult struct {
	Response    string       `json:"response"`
	ToolCalls   []ToolCall   `json:"tool_calls"`
	ToolResults []ToolResult `json:"tool_results"`
	Usage       *TokenUsage  `json:"usage,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Config configures turn processing.
type Config struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	MaxRetries  int     `json:"max_retries,omitempty"`
	// RequestTimeout bounds each individual provider call.
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`
}

// DefaultConfig returns the default turn configuration.
func DefaultConfig() Config {
	return Config{
		Model:          "gemini-2.5-flash",
		Temperature:    0.7,
		MaxTokens:      2048,
		MaxRetries:     3,
		RequestTimeout: 60 * time.Second,
	}
}

// IsRetryableError reports whether a provider error is worth retrying.
// Status codes come from the SDKs' typed errors; text matching is kept only
// for transport-level failures that never carry a status.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if status, ok := providerStatusCode(err); ok {
		return status == 429 || (status >= 500 && status <= 504)
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection reset") {
		return true
	}

	return strings.Contains(msg, "rate limit")
}

// providerStatusCode extracts the HTTP status from any of the three SDKs'
// error types.
func providerStatusCode(err error) (int, bool) {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}

	var geminiErr *genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code, true
	}

	return 0, false
}
