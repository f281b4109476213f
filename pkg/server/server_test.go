package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/pkg/agent"
	"github.com/taskdeck/taskdeck/pkg/commandqueue"
	"github.com/taskdeck/taskdeck/pkg/history"
	"github.com/taskdeck/taskdeck/pkg/taskstore"
	"github.com/taskdeck/taskdeck/pkg/tasktools"
	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// echoProvider answers every request with fixed text and no tool calls.
type echoProvider struct {
	reply string
}

func (p *echoProvider) Call(ctx context.Context, request agent.LLMRequest) (*agent.LLMResponse, error) {
	return &agent.LLMResponse{Content: p.reply}, nil
}

func (p *echoProvider) Provider() string { return "echo" }

func setupTestServer(t *testing.T) (*Server, *taskstore.Store) {
	t.Helper()

	store, err := taskstore.New(taskstore.Config{
		Path:   filepath.Join(t.TempDir(), "tasks.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	executor := toolexecutor.New()
	require.NoError(t, tasktools.Register(executor, store, zerolog.Nop()))

	hm, err := history.New(history.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { hm.Close() })

	queue := commandqueue.New()
	t.Cleanup(func() { queue.Close() })

	orchestrator, err := agent.NewOrchestrator(agent.OrchestratorConfig{
		Executor: executor,
		History:  hm,
		Queue:    queue,
		Provider: &echoProvider{reply: "Hello from the assistant"},
		Turn:     agent.Config{Model: "test-model", MaxRetries: 1},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	srv, err := New(Options{RateLimitPerMinute: 1000}, orchestrator, executor, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.rateLimiter.Stop()
	})

	return srv, store
}

func TestHandleHealth(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleChat(t *testing.T) {
	srv, _ := setupTestServer(t)

	t.Run("should require user identity", func(t *testing.T) {
		body, _ := json.Marshal(ChatRequest{Message: "hello"})
		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should require a message", func(t *testing.T) {
		body, _ := json.Marshal(ChatRequest{})
		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should process a turn and assign a conversation id", func(t *testing.T) {
		body, _ := json.Marshal(ChatRequest{Message: "hello"})
		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Hello from the assistant", resp.Response)
		assert.True(t, strings.HasPrefix(resp.ConversationID, "conv_"))
	})

	t.Run("should keep a supplied conversation id", func(t *testing.T) {
		body, _ := json.Marshal(ChatRequest{Message: "hello again", ConversationID: "conv_fixed"})
		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "conv_fixed", resp.ConversationID)
	})
}

func TestHandleTasks(t *testing.T) {
	srv, store := setupTestServer(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "user-1", "First task", nil)
	require.NoError(t, err)
	second, err := store.Create(ctx, "user-1", "Second task", nil)
	require.NoError(t, err)
	_, err = store.SetCompleted(ctx, second.ID, "user-1", true)
	require.NoError(t, err)

	t.Run("should require user identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should list tasks", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var result toolexecutor.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Success)
		require.NotNil(t, result.Count)
		assert.Equal(t, 2, *result.Count)
	})

	t.Run("should filter by status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks?status=completed", nil)
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var result toolexecutor.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.NotNil(t, result.Count)
		assert.Equal(t, 1, *result.Count)
	})

	t.Run("should reject invalid status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks?status=bogus", nil)
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWebSocketChat(t *testing.T) {
	srv, _ := setupTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws"
	header := http.Header{"X-User-ID": []string{"user-1"}}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ChatRequest{Message: "hello"}))

	var resp ChatResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "Hello from the assistant", resp.Response)
	assert.NotEmpty(t, resp.ConversationID)

	// A second frame reuses the conversation.
	require.NoError(t, conn.WriteJSON(ChatRequest{Message: "hello again"}))

	var resp2 ChatResponse
	require.NoError(t, conn.ReadJSON(&resp2))
	assert.Equal(t, resp.ConversationID, resp2.ConversationID)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.Greater(t, rl.RetryAfter("1.2.3.4"), 0)

	// Other clients are unaffected.
	assert.True(t, rl.Allow("5.6.7.8"))
}
