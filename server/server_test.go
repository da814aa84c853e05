package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/librarydesk/agent"
	"github.com/richinex/librarydesk/internal/metrics"
	"github.com/richinex/librarydesk/model"
	"github.com/richinex/librarydesk/session"
	"github.com/richinex/librarydesk/storage"
)

// echoAgent answers with the message it was given.
type echoAgent struct {
	mu    sync.Mutex
	calls []string
}

func (e *echoAgent) Respond(_ context.Context, sessionID, text string) agent.Reply {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, sessionID+":"+text)
	return agent.Reply{Text: "echo: " + text, SessionID: sessionID, State: agent.StateText}
}

type fixture struct {
	server   *Server
	agent    *echoAgent
	store    *storage.Store
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSqliteInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background()))

	sessions := session.NewManager(session.NewMemoryBackend(10, time.Hour))
	t.Cleanup(func() { _ = sessions.Shutdown() })

	a := &echoAgent{}
	srv, err := New(Options{Metrics: metrics.NewMetrics()}, a, sessions, store)
	require.NoError(t, err)
	return &fixture{server: srv, agent: a, store: store, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestChat(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", `{"message":"  Do you have Clean Code?  ","session_id":"s1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{"response": "echo: Do you have Clean Code?", "session_id": "s1"}, decode(t, rec))

	messages, err := f.store.SessionMessages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "Do you have Clean Code?", messages[0].Content)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "echo: Do you have Clean Code?", messages[1].Content)
}

func TestChatDefaultsSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default", decode(t, rec)["session_id"])
	assert.Equal(t, []string{"default:hi"}, f.agent.calls)
}

func TestChatRequiresMessage(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{}`, `{"message":"   "}`, `not json`, ``} {
		rec := f.do(t, http.MethodPost, "/api/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, map[string]any{"error": "Message is required"}, decode(t, rec))
	}
	assert.Empty(t, f.agent.calls)
}

func TestSessionsLifecycle(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/chat", `{"message":"one","session_id":"s1"}`)
	f.do(t, http.MethodPost, "/api/chat", `{"message":"two","session_id":"s1"}`)

	rec := f.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)["session_id"].(string)
	require.NotEmpty(t, created)

	rec = f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode(t, rec)["sessions"].([]any)
	assert.ElementsMatch(t, []any{"s1", created}, sessions)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+created, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, []any{"s1"}, decode(t, rec)["sessions"])
}

func TestSessionMessagesAndToolCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.do(t, http.MethodPost, "/api/chat", `{"message":"hi","session_id":"s1"}`)
	require.NoError(t, f.store.SaveToolCall(ctx, model.ToolCallRecord{
		SessionID: "s1",
		ToolName:  "inventory_summary",
		Arguments: map[string]any{},
		Result:    map[string]any{"result": []any{}},
		Timestamp: time.Now(),
	}))

	rec := f.do(t, http.MethodGet, "/api/sessions/s1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["messages"], 2)

	rec = f.do(t, http.MethodGet, "/api/sessions/unknown/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["messages"])

	rec = f.do(t, http.MethodGet, "/api/sessions/s1/tool-calls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	calls := decode(t, rec)["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "inventory_summary", calls[0].(map[string]any)["name"])
}

func TestOrders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["orders"], 4)

	rec = f.do(t, http.MethodGet, "/api/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode(t, rec)
	assert.EqualValues(t, 1, details["order_id"])
	assert.NotEmpty(t, details["items"])

	rec = f.do(t, http.MethodGet, "/api/orders/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "Order not found"}, decode(t, rec))

	rec = f.do(t, http.MethodGet, "/api/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, rec))

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, "abc-123", out.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	out = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusNoContent, out.Code)
	assert.Contains(t, out.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/nothing", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/chat", "").Code)
}

func TestNewRequiresCollaborators(t *testing.T) {
	f := newFixture(t)

	_, err := New(Options{}, nil, f.sessions, f.store)
	assert.Error(t, err)
	_, err = New(Options{}, f.agent, nil, f.store)
	assert.Error(t, err)
	_, err = New(Options{}, f.agent, f.sessions, nil)
	assert.Error(t, err)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, listener) }()

	url := fmt.Sprintf("http://%s/api/health", listener.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
