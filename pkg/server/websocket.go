package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/taskdeck/taskdeck/internal/tracing"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients send the user id after connecting; origin checks are
	// left to the deployment's proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket serves a persistent chat connection. Each JSON frame is
// one chat turn; the conversation id is established on the first frame and
// reused for the rest of the connection unless the client overrides it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		writeJSONError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("WebSocket connection opened")

	conversationID := ""

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}

		if req.Message == "" {
			if err := conn.WriteJSON(map[string]string{"error": "message is required"}); err != nil {
				return
			}
			continue
		}

		if req.ConversationID != "" {
			conversationID = req.ConversationID
		}
		if conversationID == "" {
			id, err := gonanoid.New()
			if err != nil {
				logger.Error().Err(err).Msg("Failed to create conversation id")
				return
			}
			conversationID = "conv_" + id
		}

		ctx := tracing.NewRequestContext(r.Context())
		result, err := s.orchestrator.ProcessMessage(ctx, userID, conversationID, req.Message)
		if err != nil {
			logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Chat turn failed")
			if err := conn.WriteJSON(map[string]string{"error": "failed to process message"}); err != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(ChatResponse{
			Response:       result.Response,
			ConversationID: conversationID,
			ToolCalls:      result.ToolCalls,
			ToolResults:    result.ToolResults,
			Error:          result.Error,
		}); err != nil {
			logger.Warn().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}
