package tasktools

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ValidationResult holds the outcome of validating one tool invocation.
// All violations are collected so the caller gets complete diagnostics
// in one round trip.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

type validateFunc func(args map[string]interface{}) ValidationResult

var validationFuncs = map[string]validateFunc{
	ToolAddTask:      validateAddTask,
	ToolListTasks:    validateListTasks,
	ToolCompleteTask: validateCompleteTask,
	ToolUpdateTask:   validateUpdateTask,
	ToolDeleteTask:   validateDeleteTask,
}

// Validate checks the arguments of a tool invocation against that tool's
// declared constraints. Pure function, no side effects.
func Validate(toolName string, args map[string]interface{}) ValidationResult {
	fn, ok := validationFuncs[toolName]
	if !ok {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Unknown tool: %s", toolName)},
		}
	}
	return fn(args)
}

func validateAddTask(args map[string]interface{}) ValidationResult {
	var errs []string

	if title, present := args["title"]; !present || title == nil || title == "" {
		errs = append(errs, "title is required")
	} else if s, ok := title.(string); !ok {
		errs = append(errs, "title must be a string")
	} else if n := utf8.RuneCountInString(s); n < 1 || n > 200 {
		errs = append(errs, "title must be between 1 and 200 characters")
	}

	if desc, present := args["description"]; present && desc != nil {
		if s, ok := desc.(string); !ok {
			errs = append(errs, "description must be a string")
		} else if utf8.RuneCountInString(s) > 5000 {
			errs = append(errs, "description must be 5000 characters or less")
		}
	}

	errs = append(errs, checkUserIDRequired(args)...)

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateListTasks(args map[string]interface{}) ValidationResult {
	var errs []string

	errs = append(errs, checkUserIDRequired(args)...)

	if status, present := args["status"]; present && status != nil {
		s, ok := status.(string)
		if !ok || (s != "all" && s != "pending" && s != "completed") {
			errs = append(errs, "status must be 'all', 'pending', or 'completed'")
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateCompleteTask(args map[string]interface{}) ValidationResult {
	var errs []string

	errs = append(errs, checkUserIDRequired(args)...)
	errs = append(errs, checkTaskID(args)...)

	if completed, present := args["completed"]; present && completed != nil {
		if _, ok := completed.(bool); !ok {
			errs = append(errs, "completed must be a boolean")
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateUpdateTask(args map[string]interface{}) ValidationResult {
	var errs []string

	errs = append(errs, checkUserIDRequired(args)...)
	errs = append(errs, checkTaskID(args)...)

	if title, present := args["title"]; present && title != nil {
		if s, ok := title.(string); !ok {
			errs = append(errs, "title must be a string")
		} else if n := utf8.RuneCountInString(s); n < 1 || n > 200 {
			errs = append(errs, "title must be between 1 and 200 characters")
		}
	}

	if desc, present := args["description"]; present && desc != nil {
		if s, ok := desc.(string); !ok {
			errs = append(errs, "description must be a string")
		} else if utf8.RuneCountInString(s) > 5000 {
			errs = append(errs, "description must be 5000 characters or less")
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateDeleteTask(args map[string]interface{}) ValidationResult {
	var errs []string

	errs = append(errs, checkUserIDRequired(args)...)
	errs = append(errs, checkTaskID(args)...)

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func checkUserIDRequired(args map[string]interface{}) []string {
	userID, present := args["user_id"]
	if !present || userID == nil || userID == "" {
		return []string{"user_id is required"}
	}
	if _, ok := userID.(string); !ok {
		return []string{"user_id must be a string"}
	}
	return nil
}

func checkTaskID(args map[string]interface{}) []string {
	taskID, present := args["task_id"]
	if !present || taskID == nil {
		return []string{"task_id is required"}
	}
	if _, ok := asInt64(taskID); !ok {
		return []string{"task_id must be an integer"}
	}
	return nil
}

// asInt64 interprets the dynamic argument kinds an integer can arrive as:
// native ints, JSON float64 with an integral value, and json.Number.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}
