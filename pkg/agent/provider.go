package agent

import (
	"context"
	"fmt"

	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for an LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []toolexecutor.Descriptor
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from the LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// NewProvider creates an LLM provider by name.
func NewProvider(ctx context.Context, provider, apiKey string) (LLMProvider, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "gemini":
		return NewGeminiProvider(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// presentedSchema returns the tool schema as shown to the model: user_id is
// dropped from the required list and its description notes that the value is
// supplied automatically. The model never needs to produce it; the
// orchestrator overrides it with the authenticated identity regardless.
func presentedSchema(desc toolexecutor.Descriptor) map[string]interface{} {
	schema := map[string]interface{}{
		"type": "object",
	}

	properties := map[string]interface{}{}
	if orig, ok := desc.InputSchema["properties"].(map[string]interface{}); ok {
		for name, p := range orig {
			prop := map[string]interface{}{}
			if origProp, ok := p.(map[string]interface{}); ok {
				for k, v := range origProp {
					prop[k] = v
				}
			}
			if name == "user_id" {
				description, _ := prop["description"].(string)
				prop["description"] = description + " (Note: user_id is automatically provided)"
			}
			properties[name] = prop
		}
	}
	schema["properties"] = properties

	var required []string
	if origReq, ok := desc.InputSchema["required"].([]string); ok {
		for _, name := range origReq {
			if name != "user_id" {
				required = append(required, name)
			}
		}
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}
