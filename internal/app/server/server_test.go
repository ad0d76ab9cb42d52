package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eventbuddy/internal/app/presence"
	"eventbuddy/internal/app/registry"
	"eventbuddy/internal/app/server/handlers"
	"eventbuddy/internal/config"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/core/services"
	"eventbuddy/internal/platform/metrics"
	"eventbuddy/internal/plugins/memory"
	"eventbuddy/internal/testutil"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	ts     *httptest.Server
	tokens *services.TokenService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	tracker := presence.NewTracker()
	m := metrics.New(prometheus.NewRegistry())
	hub := registry.NewRegistry(log, tracker, m)
	timeout := time.Second
	convSvc := services.NewConversationService(log, store, testutil.NewDirectory(), timeout)
	unreadSvc := services.NewUnreadService(log, hub, convSvc, store, store, memory.NewQueue(0), m, timeout)
	msgSvc := services.NewMessageService(log, hub, convSvc, unreadSvc, store, store, m, timeout)
	reactionSvc := services.NewReactionService(log, hub, convSvc, store, store, store, m, timeout)
	managerSvc := services.NewManagerService(log, hub, tracker, memory.NewLastSeen(), convSvc, msgSvc, reactionSvc, unreadSvc, store, m, timeout)
	tokens := services.NewTokenService("test-secret", "eventbuddy", time.Hour)

	cfg := config.Config{
		Service: &config.ServiceConfig{Name: "chat-test", Add: ":0"},
		Gateway: &config.GatewayConfig{SendBuffer: 64, MaxFrameBytes: 64 * 1024, WriteWait: time.Second, PongWait: 5 * time.Second},
	}
	checks := map[string]handlers.Check{"store": func(context.Context) error { return nil }}
	srv := NewServer(log, cfg, tokens, managerSvc, msgSvc, unreadSvc, m, checks)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &stack{ts: ts, tokens: tokens}
}

func (s *stack) token(t *testing.T, principal string) string {
	t.Helper()
	tok, err := s.tokens.GenerateToken(principal)
	require.NoError(t, err)
	return tok
}

func (s *stack) dial(t *testing.T, principal string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws?token=" + s.token(t, principal)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first frame of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == typ {
			return frame
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	s := newStack(t)
	alice := s.dial(t, "alice")
	hs := readUntil(t, alice, domain.TypeHandshake)
	assert.Equal(t, "alice", hs["principal"])

	require.NoError(t, alice.WriteJSON(domain.InboundFrame{Type: domain.OpJoin, RequestID: "r1", PeerID: "bob"}))
	ack := readUntil(t, alice, domain.TypeAck)
	convID := ack["result"].(map[string]any)["id"].(string)

	require.NoError(t, alice.WriteJSON(domain.InboundFrame{Type: domain.OpPostMessage, RequestID: "r2", ConversationID: convID, Content: "hello"}))
	created := readUntil(t, alice, domain.TypeMessageCreated)
	assert.Equal(t, "hello", created["message"].(map[string]any)["content"])
	ack = readUntil(t, alice, domain.TypeAck)
	assert.Equal(t, "r2", ack["request_id"])

	req, err := http.NewRequest(http.MethodGet, s.ts.URL+"/conversations/"+convID+"/unread", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "bob"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unread domain.UnreadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&unread))
	assert.Equal(t, int64(1), unread.UnreadCount)
}

func TestRESTMarkReadAndHistory(t *testing.T) {
	s := newStack(t)
	alice := s.dial(t, "alice")
	readUntil(t, alice, domain.TypeHandshake)
	require.NoError(t, alice.WriteJSON(domain.InboundFrame{Type: domain.OpJoin, RequestID: "r1", PeerID: "bob"}))
	convID := readUntil(t, alice, domain.TypeAck)["result"].(map[string]any)["id"].(string)
	for _, text := range []string{"one", "two"} {
		require.NoError(t, alice.WriteJSON(domain.InboundFrame{Type: domain.OpPostMessage, RequestID: text, ConversationID: convID, Content: text}))
		readUntil(t, alice, domain.TypeAck)
	}

	bob := "Bearer " + s.token(t, "bob")
	req, _ := http.NewRequest(http.MethodPost, s.ts.URL+"/conversations/"+convID+"/read", strings.NewReader(`{"upto_seq":1}`))
	req.Header.Set("Authorization", bob)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var unread domain.UnreadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&unread))
	resp.Body.Close()
	assert.Equal(t, int64(1), unread.UnreadCount)

	req, _ = http.NewRequest(http.MethodGet, s.ts.URL+"/conversations/"+convID+"/messages?after=1", nil)
	req.Header.Set("Authorization", bob)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var history domain.HistoryResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "two", history.Messages[0].Content)

	req, _ = http.NewRequest(http.MethodGet, s.ts.URL+"/conversations/"+convID+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "mallory"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPublicEndpointsAndAuth(t *testing.T) {
	s := newStack(t)

	resp, err := http.Get(s.ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "chat_active_connections")

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.ts.URL, "http")+"/ws", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(s.ts.URL + "/presence/alice")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRESTDeactivateClosesConversation(t *testing.T) {
	s := newStack(t)
	alice := s.dial(t, "alice")
	readUntil(t, alice, domain.TypeHandshake)
	require.NoError(t, alice.WriteJSON(domain.InboundFrame{Type: domain.OpJoin, RequestID: "r1", PeerID: "bob"}))
	convID := readUntil(t, alice, domain.TypeAck)["result"].(map[string]any)["id"].(string)

	deactivate := func(principal string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, s.ts.URL+"/conversations/"+convID+"/deactivate", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+s.token(t, principal))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusForbidden, deactivate("mallory").StatusCode)

	resp := deactivate("bob")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res domain.DeactivateResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, convID, res.ConversationID)
	assert.False(t, res.Active)

	changed := readUntil(t, alice, domain.TypeConversationState)
	assert.Equal(t, "bob", changed["changed_by"])

	require.NoError(t, alice.WriteJSON(domain.InboundFrame{Type: domain.OpPostMessage, RequestID: "r2", ConversationID: convID, Content: "hello?"}))
	rejected := readUntil(t, alice, domain.TypeError)
	assert.Equal(t, "r2", rejected["request_id"])
	assert.Equal(t, domain.CodeForbidden, rejected["code"])
}
