// Package tasktools provides the task management tools exposed to the agent:
// argument validation, ownership authorization, and the five capability
// handlers backed by the task store.
package tasktools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskdeck/taskdeck/pkg/taskstore"
	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// Tool names as exposed to the model.
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolUpdateTask   = "update_task"
	ToolDeleteTask   = "delete_task"
)

// Register wires the five task tools into the executor. Each handler runs
// the full pipeline: validation, authorization, then a single store call.
func Register(executor *toolexecutor.Executor, store *taskstore.Store, logger zerolog.Logger) error {
	tools := &taskTools{store: store, logger: logger.With().Str("component", "tasktools").Logger()}

	defs := []toolexecutor.ToolDefinition{
		tools.addTaskDefinition(),
		tools.listTasksDefinition(),
		tools.completeTaskDefinition(),
		tools.updateTaskDefinition(),
		tools.deleteTaskDefinition(),
	}

	for _, def := range defs {
		if err := executor.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}

	return nil
}

type taskTools struct {
	store  *taskstore.Store
	logger zerolog.Logger
}

func (t *taskTools) addTaskDefinition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolAddTask,
		Description: "Create a new task",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "user_id", Type: "string", Description: "The ID of the user creating the task", Required: true},
			{Name: "title", Type: "string", Description: "The title of the task (1-200 characters)", Required: true, MinLength: 1, MaxLength: 200},
			{Name: "description", Type: "string", Description: "Optional detailed description of the task", MaxLength: 5000},
		},
		Handler: t.handleAddTask,
	}
}

func (t *taskTools) listTasksDefinition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolListTasks,
		Description: "Retrieve tasks from the list",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "user_id", Type: "string", Description: "The ID of the user whose tasks to retrieve", Required: true},
			{Name: "status", Type: "string", Description: "Filter tasks by completion status", Enum: []string{"all", "pending", "completed"}, Default: "all"},
		},
		Handler: t.handleListTasks,
	}
}

func (t *taskTools) completeTaskDefinition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolCompleteTask,
		Description: "Mark a task as complete",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "user_id", Type: "string", Description: "The ID of the user who owns the task", Required: true},
			{Name: "task_id", Type: "integer", Description: "The ID of the task to update", Required: true},
			{Name: "completed", Type: "boolean", Description: "Whether the task is completed (default: true)", Default: true},
		},
		Handler: t.handleCompleteTask,
	}
}

func (t *taskTools) updateTaskDefinition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolUpdateTask,
		Description: "Modify task title or description",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "user_id", Type: "string", Description: "The ID of the user who owns the task", Required: true},
			{Name: "task_id", Type: "integer", Description: "The ID of the task to update", Required: true},
			{Name: "title", Type: "string", Description: "New title for the task (1-200 characters)", MinLength: 1, MaxLength: 200},
			{Name: "description", Type: "string", Description: "New description for the task", MaxLength: 5000},
		},
		Handler: t.handleUpdateTask,
	}
}

func (t *taskTools) deleteTaskDefinition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolDeleteTask,
		Description: "Remove a task from the list",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "user_id", Type: "string", Description: "The ID of the user who owns the task", Required: true},
			{Name: "task_id", Type: "integer", Description: "The ID of the task to delete", Required: true},
		},
		Handler: t.handleDeleteTask,
	}
}

func (t *taskTools) handleAddTask(ctx context.Context, args map[string]interface{}) (toolexecutor.Result, error) {
	if result, ok := t.precheck(ctx, ToolAddTask, args); !ok {
		return result, nil
	}

	userID := args["user_id"].(string)
	title := args["title"].(string)

	var description *string
	if desc, ok := args["description"].(string); ok {
		description = &desc
	}

	task, err := t.store.Create(ctx, userID, title, description)
	if err != nil {
		t.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create task")
		return toolexecutor.Fail(toolexecutor.CodeInternalError, "Failed to create task: %v", err), nil
	}

	t.logger.Info().Int64("task_id", task.ID).Str("user_id", userID).Msg("Task created")
	return toolexecutor.Ok(taskData(task), "Task created successfully"), nil
}

func (t *taskTools) handleListTasks(ctx context.Context, args map[string]interface{}) (toolexecutor.Result, error) {
	if result, ok := t.precheck(ctx, ToolListTasks, args); !ok {
		return result, nil
	}

	userID := args["user_id"].(string)
	status := taskstore.StatusAll
	if s, ok := args["status"].(string); ok && s != "" {
		status = taskstore.Status(s)
	}

	tasks, err := t.store.List(ctx, userID, status)
	if err != nil {
		t.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to retrieve tasks")
		return toolexecutor.Fail(toolexecutor.CodeInternalError, "Failed to retrieve tasks: %v", err), nil
	}

	data := make([]map[string]interface{}, 0, len(tasks))
	for i := range tasks {
		data = append(data, taskData(&tasks[i]))
	}

	return toolexecutor.OkCount(data, len(data)), nil
}

func (t *taskTools) handleCompleteTask(ctx context.Context, args map[string]interface{}) (toolexecutor.Result, error) {
	if result, ok := t.precheck(ctx, ToolCompleteTask, args); !ok {
		return result, nil
	}

	userID := args["user_id"].(string)
	taskID, _ := asInt64(args["task_id"])

	completed := true
	if c, ok := args["completed"].(bool); ok {
		completed = c
	}

	task, err := t.store.SetCompleted(ctx, taskID, userID, completed)
	if err != nil {
		return t.storeFailure(err, taskID, "Failed to update task completion status"), nil
	}

	state := "incomplete"
	if task.Completed {
		state = "completed"
	}
	return toolexecutor.Ok(taskData(task), "Task completion status updated to "+state), nil
}

func (t *taskTools) handleUpdateTask(ctx context.Context, args map[string]interface{}) (toolexecutor.Result, error) {
	if result, ok := t.precheck(ctx, ToolUpdateTask, args); !ok {
		return result, nil
	}

	userID := args["user_id"].(string)
	taskID, _ := asInt64(args["task_id"])

	var fields taskstore.UpdateFields
	if title, ok := args["title"].(string); ok {
		fields.Title = &title
	}
	if desc, ok := args["description"].(string); ok {
		fields.Description = &desc
	}

	task, err := t.store.Update(ctx, taskID, userID, fields)
	if err != nil {
		return t.storeFailure(err, taskID, "Failed to update task"), nil
	}

	return toolexecutor.Ok(taskData(task), "Task updated successfully"), nil
}

func (t *taskTools) handleDeleteTask(ctx context.Context, args map[string]interface{}) (toolexecutor.Result, error) {
	if result, ok := t.precheck(ctx, ToolDeleteTask, args); !ok {
		return result, nil
	}

	userID := args["user_id"].(string)
	taskID, _ := asInt64(args["task_id"])

	task, err := t.store.Delete(ctx, taskID, userID)
	if err != nil {
		return t.storeFailure(err, taskID, "Failed to delete task"), nil
	}

	t.logger.Info().Int64("task_id", taskID).Str("user_id", userID).Msg("Task deleted")
	return toolexecutor.Ok(taskData(task), "Task deleted successfully"), nil
}

// precheck runs validation then authorization. Returns the failure Result
// and false when the invocation must be rejected.
func (t *taskTools) precheck(ctx context.Context, toolName string, args map[string]interface{}) (toolexecutor.Result, bool) {
	validation := Validate(toolName, args)
	if !validation.Valid {
		return toolexecutor.Fail(toolexecutor.CodeValidationError, "%s", strings.Join(validation.Errors, "; ")), false
	}
	return authorize(ctx, args)
}

// storeFailure maps store errors onto the result envelope.
func (t *taskTools) storeFailure(err error, taskID int64, internalPrefix string) toolexecutor.Result {
	switch {
	case err == taskstore.ErrNotFound:
		return toolexecutor.Fail(toolexecutor.CodeTaskNotFound, "Task with ID %d not found", taskID)
	case err == taskstore.ErrNotOwner:
		return toolexecutor.Fail(toolexecutor.CodeUnauthorized, "Task does not belong to user")
	default:
		t.logger.Error().Err(err).Int64("task_id", taskID).Msg(internalPrefix)
		return toolexecutor.Fail(toolexecutor.CodeInternalError, "%s: %v", internalPrefix, err)
	}
}

// taskData converts a task into the wire shape returned to callers.
func taskData(task *taskstore.Task) map[string]interface{} {
	var description interface{}
	if task.Description != nil {
		description = *task.Description
	}
	return map[string]interface{}{
		"id":          task.ID,
		"user_id":     task.UserID,
		"title":       task.Title,
		"description": description,
		"completed":   task.Completed,
		"created_at":  task.CreatedAt.Format(time.RFC3339),
		"updated_at":  task.UpdatedAt.Format(time.RFC3339),
	}
}
