package tasktools

import (
	"context"

	"github.com/taskdeck/taskdeck/internal/tracing"
	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// authorize confirms that the user_id inside the tool arguments matches the
// authenticated identity carried on the context. When no authenticated
// identity is present (direct invocation paths) the check is skipped.
// Returns a failure Result and false when access must be denied.
func authorize(ctx context.Context, args map[string]interface{}) (toolexecutor.Result, bool) {
	authenticated := tracing.GetUserID(ctx)
	if authenticated == "" {
		return toolexecutor.Result{}, true
	}

	argUserID, ok := args["user_id"].(string)
	if !ok || argUserID == "" {
		return toolexecutor.Fail(toolexecutor.CodeMissingUserID, "user_id is required in arguments"), false
	}

	if argUserID != authenticated {
		return toolexecutor.Fail(toolexecutor.CodeUnauthorized, "User ID in arguments does not match authenticated user"), false
	}

	return toolexecutor.Result{}, true
}
