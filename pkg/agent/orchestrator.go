package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/tracing"
	"github.com/taskdeck/taskdeck/pkg/commandqueue"
	"github.com/taskdeck/taskdeck/pkg/history"
	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// systemPrompt steers the model toward tool use and consistent task
// presentation.
const systemPrompt = "You are a helpful todo list assistant. Your job is to understand user requests " +
	"and help them manage their tasks using the available tools. Always be friendly, " +
	"concise, and helpful in your responses.\n\n" +
	"1. Understand the user's intent from their message\n" +
	"2. Select the appropriate tool to fulfill the request\n" +
	"3. Use the tool with correct parameters\n" +
	"4. Generate a natural language response based on the tool result\n" +
	"5. If you're unsure about something, ask the user for clarification\n" +
	"6. If a request is invalid or impossible, explain why politely\n\n" +
	"IMPORTANT: The user_id is automatically provided with every request, so do not ask the user for their user_id.\n\n" +
	"TASK ID GUIDELINES:\n" +
	"- Always include task IDs when displaying tasks to the user\n" +
	"- Format tasks as: \"1. Task title (✅ completed / ⬜ pending)\"\n" +
	"- Extract task IDs from user requests like: 'task 1', 'task 3', 'number 2', 'complete 3', 'delete task 2', 'update task 1 to new title'\n" +
	"- When listing tasks, format as: \"You have X tasks:\\n1. Task title (✅ completed)\\n2. Task title (⬜ pending)\\n3. Task title (⬜ pending)\"\n" +
	"Available tools: add_task, list_tasks, complete_task, update_task, delete_task"

// Fallback responses used when the model returns no usable text.
const (
	fallbackAfterTools = "I processed your request using the appropriate tools."
	fallbackNoTools    = "I'm here to help with your todo list."
)

// Orchestrator drives conversational turns: it sends the conversation to the
// model, executes requested tools sequentially, and produces the final reply.
type Orchestrator struct {
	executor *toolexecutor.Executor
	history  *history.Manager
	queue    *commandqueue.Queue
	provider LLMProvider
	config   Config
	logger   zerolog.Logger
}

// OrchestratorConfig holds the orchestrator's dependencies.
type OrchestratorConfig struct {
	Executor *toolexecutor.Executor
	History  *history.Manager
	Queue    *commandqueue.Queue
	Provider LLMProvider
	Turn     Config
	Logger   zerolog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history manager is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	turn := cfg.Turn
	if turn.Model == "" {
		turn = DefaultConfig()
	}
	if turn.MaxRetries <= 0 {
		turn.MaxRetries = 3
	}
	if turn.RequestTimeout <= 0 {
		turn.RequestTimeout = DefaultConfig().RequestTimeout
	}

	return &Orchestrator{
		executor: cfg.Executor,
		history:  cfg.History,
		queue:    cfg.Queue,
		provider: cfg.Provider,
		config:   turn,
		logger:   cfg.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

// ProcessMessage handles one user message on the conversation's lane. Turns
// for the same conversation run strictly in order.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userID, conversationKey, message string) (TurnResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if userID == "" {
		return TurnResult{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(message) == "" {
		return TurnResult{}, fmt.Errorf("message cannot be empty")
	}
	if conversationKey == "" {
		return TurnResult{}, fmt.Errorf("conversation key is required")
	}

	ctx = tracing.NewTurnContext(ctx, conversationKey)
	ctx = tracing.WithUserID(ctx, userID)
	ctx, span := tracing.StartSpan(
		ctx,
		"taskdeck.agent",
		"agent.process_message",
		attribute.String("conversation_key", conversationKey),
	)
	defer span.End()

	lane := "conv-" + conversationKey
	result, err := o.queue.Enqueue(ctx, lane, func(turnCtx context.Context) (interface{}, error) {
		return o.processTurn(turnCtx, userID, conversationKey, message)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}

	return result.(TurnResult), nil
}

func (o *Orchestrator) processTurn(ctx context.Context, userID, conversationKey, message string) (TurnResult, error) {
	logger := tracing.LoggerFromContext(ctx, o.logger)
	start := time.Now()

	entries, err := o.history.Load(ctx, conversationKey)
	if err != nil {
		observability.RecordTurn(time.Since(start), false)
		return TurnResult{}, fmt.Errorf("failed to load conversation history: %w", err)
	}

	if err := o.history.Append(ctx, conversationKey, history.Message{
		Role:    "user",
		Content: message,
		Metadata: map[string]interface{}{
			"user_id": userID,
		},
	}); err != nil {
		observability.RecordTurn(time.Since(start), false)
		return TurnResult{}, fmt.Errorf("failed to persist user message: %w", err)
	}

	messages := make([]Message, 0, len(entries)+1)
	for _, entry := range entries {
		messages = append(messages, Message{
			Role:    entry.Message.Role,
			Content: entry.Message.Content,
		})
	}
	messages = append(messages, Message{Role: "user", Content: message})

	result := o.runModel(ctx, userID, messages)
	success := result.Error == ""

	metadata := map[string]interface{}{
		"model": o.config.Model,
	}
	if len(result.ToolCalls) > 0 {
		names := make([]string, 0, len(result.ToolCalls))
		for _, tc := range result.ToolCalls {
			names = append(names, tc.Name)
		}
		metadata["tools"] = names
	}
	if result.Usage != nil {
		metadata["usage"] = result.Usage
	}

	if err := o.history.Append(ctx, conversationKey, history.Message{
		Role:     "assistant",
		Content:  result.Response,
		Metadata: metadata,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist assistant message")
		observability.RecordTurn(time.Since(start), false)
		return TurnResult{}, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	observability.RecordTurn(time.Since(start), success)
	logger.Info().
		Int("tool_calls", len(result.ToolCalls)).
		Dur("duration", time.Since(start)).
		Bool("success", success).
		Msg("Turn processed")

	return result, nil
}

// runModel performs the provider round trips and tool execution for a turn.
// Provider failures surface as an apologetic reply rather than an error, so
// the conversation stays usable.
func (o *Orchestrator) runModel(ctx context.Context, userID string, messages []Message) TurnResult {
	logger := tracing.LoggerFromContext(ctx, o.logger)
	tools := o.describeTools()

	response, err := o.callWithRetry(ctx, messages, tools)
	if err != nil {
		logger.Error().Err(err).Msg("Provider call failed")
		return apologyResult(err)
	}

	usage := accumulateUsage(nil, response.Usage)

	if len(response.ToolCalls) == 0 {
		text := response.Content
		if text == "" {
			text = fallbackNoTools
		}
		return TurnResult{
			Response:    text,
			ToolCalls:   []ToolCall{},
			ToolResults: []ToolResult{},
			Usage:       usage,
		}
	}

	// Execute requested tools one at a time, in the order the model asked
	// for them.
	toolResults := make([]ToolResult, 0, len(response.ToolCalls))
	for _, tc := range response.ToolCalls {
		args := o.coerceArguments(ctx, tc.Name, tc.Parameters, userID)
		execResult := o.executor.Execute(ctx, tc.Name, args)
		toolResults = append(toolResults, ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Result:     execResult,
		})
	}

	// A listing turn gets a deterministic rendering instead of a second
	// model round trip, so task IDs always reach the user verbatim.
	for _, tr := range toolResults {
		if tr.Name == "list_tasks" && tr.Result.Success {
			return TurnResult{
				Response:    formatTaskList(tr.Result),
				ToolCalls:   response.ToolCalls,
				ToolResults: toolResults,
				Usage:       usage,
			}
		}
	}

	// Feed tool results back for a final natural language reply.
	followUp := append([]Message{}, messages...)
	followUp = append(followUp, Message{
		Role:      "assistant",
		Content:   response.Content,
		ToolCalls: response.ToolCalls,
	})
	for _, tr := range toolResults {
		content, err := json.Marshal(tr.Result)
		if err != nil {
			content = []byte(fmt.Sprintf("%v", tr.Result))
		}
		followUp = append(followUp, Message{
			Role:       "tool",
			Content:    string(content),
			ToolCallID: tr.ToolCallID,
		})
	}

	finalResponse, err := o.callWithRetry(ctx, followUp, tools)
	if err != nil {
		logger.Error().Err(err).Msg("Follow-up provider call failed")
		result := apologyResult(err)
		result.ToolCalls = response.ToolCalls
		result.ToolResults = toolResults
		result.Usage = usage
		return result
	}
	usage = accumulateUsage(usage, finalResponse.Usage)

	text := finalResponse.Content
	if text == "" {
		text = fallbackAfterTools
	}

	return TurnResult{
		Response:    text,
		ToolCalls:   response.ToolCalls,
		ToolResults: toolResults,
		Usage:       usage,
	}
}

// callWithRetry calls the provider with exponential backoff on transient
// failures.
func (o *Orchestrator) callWithRetry(ctx context.Context, messages []Message, tools []toolexecutor.Descriptor) (*LLMResponse, error) {
	logger := tracing.LoggerFromContext(ctx, o.logger)
	request := LLMRequest{
		Model:        o.config.Model,
		Messages:     messages,
		Tools:        tools,
		Temperature:  o.config.Temperature,
		MaxTokens:    o.config.MaxTokens,
		SystemPrompt: systemPrompt,
	}

	var lastErr error
	for attempt := 0; attempt < o.config.MaxRetries; attempt++ {
		callStart := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
		response, err := o.provider.Call(callCtx, request)
		cancel()
		observability.RecordProviderCall(o.provider.Provider(), time.Since(callStart), err == nil)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == o.config.MaxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := time.Duration(1<<attempt) * time.Second
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying provider call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", o.config.MaxRetries, lastErr)
}

// coerceArguments normalizes model-produced arguments before execution. The
// authenticated identity always replaces whatever user_id the model sent.
func (o *Orchestrator) coerceArguments(ctx context.Context, toolName string, args map[string]interface{}, userID string) map[string]interface{} {
	logger := tracing.LoggerFromContext(ctx, o.logger)

	coerced := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		coerced[k] = v
	}
	coerced["user_id"] = userID

	switch toolName {
	case "complete_task", "update_task", "delete_task":
		if raw, present := coerced["task_id"]; present {
			if s, ok := raw.(string); ok {
				if id, err := strconv.Atoi(s); err == nil {
					coerced["task_id"] = id
				} else {
					logger.Warn().
						Str("tool", toolName).
						Str("task_id", s).
						Msg("Could not convert task_id to integer")
				}
			}
		}
	}

	if toolName == "complete_task" {
		if raw, present := coerced["completed"]; present {
			switch v := raw.(type) {
			case string:
				switch strings.ToLower(v) {
				case "true", "1":
					coerced["completed"] = true
				case "false", "0":
					coerced["completed"] = false
				default:
					// Unrecognized strings mean "complete it".
					coerced["completed"] = true
				}
			case float64:
				coerced["completed"] = v != 0
			case int:
				coerced["completed"] = v != 0
			}
		}
	}

	return coerced
}

// describeTools returns tool descriptors in a stable order.
func (o *Orchestrator) describeTools() []toolexecutor.Descriptor {
	byName := o.executor.Describe()

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]toolexecutor.Descriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, byName[name])
	}
	return descriptors
}

// formatTaskList renders a successful list_tasks result.
func formatTaskList(result toolexecutor.Result) string {
	tasks, _ := result.Data.([]map[string]interface{})
	if len(tasks) == 0 {
		return "You have no tasks."
	}

	lines := make([]string, 0, len(tasks))
	for _, task := range tasks {
		completed, _ := task["completed"].(bool)
		status := "⬜ pending"
		if completed {
			status = "✅ completed"
		}
		lines = append(lines, fmt.Sprintf("%v. %s (%s)", task["id"], task["title"], status))
	}

	return fmt.Sprintf("You have %d tasks:\n%s", len(tasks), strings.Join(lines, "\n"))
}

func apologyResult(err error) TurnResult {
	return TurnResult{
		Response:    fmt.Sprintf("Sorry, I encountered an error processing your request: %v", err),
		ToolCalls:   []ToolCall{},
		ToolResults: []ToolResult{},
		Error:       err.Error(),
	}
}

func accumulateUsage(total, delta *TokenUsage) *TokenUsage {
	if delta == nil {
		return total
	}
	if total == nil {
		return &TokenUsage{InputTokens: delta.InputTokens, OutputTokens: delta.OutputTokens}
	}
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	return total
}
