package server

import (
	"encoding/json"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/taskdeck/taskdeck/internal/tracing"
	"github.com/taskdeck/taskdeck/pkg/agent"
	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the reply to a chat turn.
type ChatResponse struct {
	Response       string             `json:"response"`
	ConversationID string             `json:"conversation_id"`
	ToolCalls      []agent.ToolCall   `json:"tool_calls"`
	ToolResults    []agent.ToolResult `json:"tool_results"`
	Error          string             `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleChat runs one conversational turn. The authenticated identity comes
// from the X-User-ID header; a missing conversation id starts a new
// conversation.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSONError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := gonanoid.New()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		conversationID = "conv_" + id
	}

	ctx := tracing.NewRequestContext(r.Context())
	result, err := s.orchestrator.ProcessMessage(ctx, userID, conversationID, req.Message)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Chat turn failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:       result.Response,
		ConversationID: conversationID,
		ToolCalls:      result.ToolCalls,
		ToolResults:    result.ToolResults,
		Error:          result.Error,
	})
}

// handleTasks serves GET /api/tasks, a direct path to the listing tool that
// skips the model entirely.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSONError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	args := map[string]interface{}{
		"user_id": userID,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		args["status"] = status
	}

	ctx := tracing.WithUserID(tracing.NewRequestContext(r.Context()), userID)
	result := s.executor.Execute(ctx, "list_tasks", args)

	status := http.StatusOK
	if !result.Success {
		switch result.ErrorCode() {
		case toolexecutor.CodeValidationError:
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	}

	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
