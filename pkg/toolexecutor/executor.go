package toolexecutor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/xeipuuv/gojsonschema"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	MinLength   int         `json:"min_length,omitempty"`
	MaxLength   int         `json:"max_length,omitempty"`
}

// Handler is the function signature for tool execution. Business failures
// belong inside the returned Result; a non-nil error signals an unexpected
// fault and is converted to INTERNAL_ERROR by the executor.
type Handler func(ctx context.Context, args map[string]interface{}) (Result, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     Handler         `json:"-"`
}

// Descriptor is the schema view of a tool exposed to inference providers
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Executor manages the tool registry and executes tools by name. It is an
// owned instance, not process-global, so independent agent instances can
// carry independent registries.
type Executor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates a new Executor
func New() *Executor {
	observability.EnsureRegistered()

	e := &Executor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: 30 * time.Second,
	}

	log.Debug().Msg("Tool executor initialized")

	return e
}

// SetTimeout overrides the default per-execution timeout
func (e *Executor) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.timeout = d
	}
}

// Register adds a tool to the registry. Registering a name twice is a
// configuration error and is rejected.
func (e *Executor) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name, or nil if unregistered
func (e *Executor) Get(name string) *ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// List returns all registered tool names
func (e *Executor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// Describe returns the descriptor for every registered tool, keyed by name.
// This is what gets handed to the inference provider.
func (e *Executor) Describe() map[string]Descriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]Descriptor, len(e.tools))
	for name, def := range e.tools {
		out[name] = Descriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
		}
	}
	return out
}

// Execute runs the named tool with the given arguments. It does not validate
// or authorize arguments; that is the caller's responsibility, which keeps
// the executor reusable outside the conversational path.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}) Result {
	start := time.Now()

	e.mu.RLock()
	tool := e.tools[name]
	schema := e.schemas[name]
	timeout := e.timeout
	e.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", name).Msg("Tool not found")
		observability.RecordToolError(name, CodeToolNotFound)
		return Fail(CodeToolNotFound, "tool not found: %s", name)
	}

	// Structural mismatches are logged here but not rejected; handlers own
	// the caller-facing validation messages.
	if schema != nil {
		if res, err := schema.Validate(gojsonschema.NewGoLoader(args)); err == nil && !res.Valid() {
			log.Debug().Str("tool", name).Interface("schema_errors", res.Errors()).Msg("Arguments do not match tool schema")
		}
	}

	log.Debug().Str("tool", name).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan Result, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool handler panic: %v", r)
			}
		}()
		result, err := tool.Handler(timeoutCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, result.Success)
		if !result.Success {
			observability.RecordToolError(name, result.ErrorCode())
		}

		log.Debug().
			Str("tool", name).
			Dur("duration", duration).
			Bool("success", result.Success).
			Msg("Tool execution completed")

		return result

	case err := <-errChan:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		observability.RecordToolError(name, CodeInternalError)

		log.Error().
			Str("tool", name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		return Fail(CodeInternalError, "%s", err.Error())

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		observability.RecordToolError(name, CodeInternalError)

		log.Error().
			Str("tool", name).
			Dur("duration", duration).
			Msg("Tool execution timeout")

		return Fail(CodeInternalError, "tool execution timeout after %v", timeout)
	}
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// inputSchema builds the JSON-Schema-like parameter description for a tool
func inputSchema(def *ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.MinLength > 0 {
			paramSchema["minLength"] = param.MinLength
		}
		if param.MaxLength > 0 {
			paramSchema["maxLength"] = param.MaxLength
		}

		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// compileSchema compiles the tool's parameter schema, failing registration
// fast on malformed definitions
func compileSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	loader := gojsonschema.NewGoLoader(inputSchema(&def))
	return gojsonschema.NewSchema(loader)
}
