package toolexecutor

import "fmt"

// Error codes shared by every tool result. VALIDATION_ERROR through
// INTERNAL_ERROR are business failures reported inside the envelope;
// TOOL_NOT_FOUND is an executor-level failure indicating a registry
// misconfiguration.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeMissingUserID   = "MISSING_USER_ID"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeTaskNotFound    = "TASK_NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeToolNotFound    = "TOOL_NOT_FOUND"
)

// ErrorDetail describes a tool failure
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the envelope every tool returns. The shape is a wire contract:
// {success, data?, message?, error?} with an extra count for listings.
type Result struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Count   *int         `json:"count,omitempty"`
	Message string       `json:"message,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// Ok builds a success result
func Ok(data interface{}, message string) Result {
	return Result{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// OkCount builds a success result carrying a listing count
func OkCount(data interface{}, count int) Result {
	return Result{
		Success: true,
		Data:    data,
		Count:   &count,
	}
}

// Fail builds a failure result with the given error code
func Fail(code, format string, args ...interface{}) Result {
	return Result{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// ErrorCode returns the result's error code, or "" for successes
func (r Result) ErrorCode() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}
