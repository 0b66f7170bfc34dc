package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	myMiddleware "go-chat/internal/middleware"
)

type tokenTable map[string][2]string

func (tt tokenTable) ValidateToken(token string) (string, string, error) {
	id, ok := tt[token]
	if !ok {
		return "", "", errors.New("unknown token")
	}
	return id[0], id[1], nil
}

func newWsServer(t *testing.T, opts ClientOptions) (*httptest.Server, *Hub, *memStore) {
	return newWsServerWith(t, nil, opts)
}

func newWsServerWith(t *testing.T, members MembershipSource, opts ClientOptions) (*httptest.Server, *Hub, *memStore) {
	t.Helper()
	h, store := newTestHubWith(t, members)
	handler := NewHandler(h, opts, nil, zap.NewNop())
	auth := myMiddleware.NewAuthMiddleware(tokenTable{
		"tok-a": {"A", "Ada"},
		"tok-b": {"B", "Bob"},
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", auth.Handle(http.HandlerFunc(handler.ServeWs)))
	mux.HandleFunc("/healthz", handler.Health)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h, store
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	return f
}

func TestServeWs_RejectsMissingToken(t *testing.T) {
	srv, _, _ := newWsServer(t, ClientOptions{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWs_MessageRoundTrip(t *testing.T) {
	srv, h, store := newWsServer(t, ClientOptions{})
	a := dial(t, srv, "tok-a")
	b := dial(t, srv, "tok-b")
	require.Eventually(t, func() bool { return h.Stats().Endpoints == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"new-message","data":{"conversationId":"c1","members":["A","B"],"message":"hey"}}`)))

	f := readFrame(t, b)
	assert.Equal(t, EventNewMessage, f.Event)
	assert.Contains(t, string(f.Data), `"name":"Ada"`)
	assert.Equal(t, EventNewMessageAlert, readFrame(t, b).Event)

	assert.Equal(t, EventNewMessage, readFrame(t, a).Event)

	assert.Eventually(t, func() bool { return len(store.saved()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWs_BadFrameGetsErrorEvent(t *testing.T) {
	srv, _, _ := newWsServer(t, ClientOptions{})
	a := dial(t, srv, "tok-a")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	f := readFrame(t, a)
	assert.Equal(t, EventError, f.Event)
}

func TestServeWs_RateLimit(t *testing.T) {
	srv, _, _ := newWsServer(t, ClientOptions{RateBurst: 1, RateInterval: time.Hour})
	a := dial(t, srv, "tok-a")

	typing := []byte(`{"event":"typing-start","data":{"conversationId":"c1","members":["A"]}}`)
	require.NoError(t, a.WriteMessage(websocket.TextMessage, typing))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, typing))

	f := readFrame(t, a)
	assert.Equal(t, EventError, f.Event)
	assert.Contains(t, string(f.Data), "rate limit")
}

func TestServeWs_CloseBroadcastsPresence(t *testing.T) {
	srv, h, _ := newWsServer(t, ClientOptions{})
	a := dial(t, srv, "tok-a")
	b := dial(t, srv, "tok-b")
	require.Eventually(t, func() bool { return h.Stats().Endpoints == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"conversation-joined","data":{"members":["A","B"]}}`)))
	f := readFrame(t, b)
	assert.Equal(t, EventOnlineUsers, f.Event)
	assert.JSONEq(t, `["A"]`, string(f.Data))
	assert.Equal(t, EventOnlineUsers, readFrame(t, a).Event)

	require.NoError(t, a.Close())
	f = readFrame(t, b)
	assert.Equal(t, EventOnlineUsers, f.Event)
	assert.JSONEq(t, `[]`, string(f.Data))
}

func TestServeWs_StalledMembershipLookupTimesOut(t *testing.T) {
	srv, h, _ := newWsServerWith(t, blockingMembers{}, ClientOptions{HandleTimeout: 50 * time.Millisecond})
	a := dial(t, srv, "tok-a")
	b := dial(t, srv, "tok-b")
	require.Eventually(t, func() bool { return h.Stats().Endpoints == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"new-message","data":{"conversationId":"c1","members":["A","B"],"message":"still there?"}}`)))

	// The lookup gives up and the client's member list is used.
	assert.Equal(t, EventNewMessage, readFrame(t, b).Event)
}

func TestServeWs_ShutdownClosesConnections(t *testing.T) {
	srv, h, _ := newWsServer(t, ClientOptions{})
	a := dial(t, srv, "tok-a")
	require.Eventually(t, func() bool { return h.Stats().Endpoints == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Shutdown(context.Background()))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), "got %v", err)
	assert.Eventually(t, func() bool { return h.Stats().Endpoints == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://CHAT.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}
