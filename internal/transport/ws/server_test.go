package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senweaver-server-go/internal/app/session"
	domain "senweaver-server-go/internal/domain/session"
)

type fakeCoordinator struct {
	mu           sync.Mutex
	handshakes   []session.Handshake
	received     []string
	disconnected []string
}

func (f *fakeCoordinator) Connect(ctx context.Context, ch domain.Channel, hs session.Handshake) (*domain.Session, error) {
	f.mu.Lock()
	f.handshakes = append(f.handshakes, hs)
	f.mu.Unlock()
	if hs.Auth == "bad" {
		_ = ch.Close(session.ClosePolicyViolation, session.ReasonAuthFailed)
		return nil, session.ErrAuthenticationFailed
	}
	sess := domain.New("s-"+hs.UserID, hs.UserID, ch.RemoteAddr(), false, time.Now())
	if err := ch.Send(ctx, []byte(`{"type":"connection"}`)); err != nil {
		return nil, err
	}
	return sess, nil
}

func (f *fakeCoordinator) HandleMessage(_ context.Context, sess *domain.Session, raw []byte) {
	f.mu.Lock()
	f.received = append(f.received, string(raw))
	f.mu.Unlock()
	if string(raw) == "bye" {
		sess.SetState(domain.StateDisconnected)
	}
}

func (f *fakeCoordinator) Disconnect(_ context.Context, sess *domain.Session) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, sess.ID())
	f.mu.Unlock()
}

func (f *fakeCoordinator) disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnected...)
}

func (f *fakeCoordinator) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func newTestServer(t *testing.T) (*Server, *fakeCoordinator, *httptest.Server) {
	t.Helper()
	coord := &fakeCoordinator{}
	hub := NewHub(nil)
	router := NewRouter(hub, coord, nil, RouterOptions{HandshakeTimeout: time.Second})
	srv := NewServer(ServerConfig{Path: "/ws"}, router, hub, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, coord, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRouter_SessionLifecycle(t *testing.T) {
	srv, coord, ts := newTestServer(t)
	conn := dial(t, ts, "user_id=u1&timestamp=1700000000&auth=ok")

	_, welcome, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connection"}`, string(welcome))
	assert.Eventually(t, func() bool { return srv.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return len(coord.disconnects()) == 1 && srv.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"type":"ping"}`}, coord.messages())
	assert.Equal(t, "u1", coord.handshakes[0].UserID)
}

func TestRouter_RejectedHandshakeCloses(t *testing.T) {
	srv, coord, ts := newTestServer(t)
	conn := dial(t, ts, "user_id=u1&timestamp=1700000000&auth=bad")

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, session.ReasonAuthFailed, closeErr.Text)
	assert.Equal(t, 0, srv.Count())
	assert.Empty(t, coord.disconnects())
}

func TestRouter_SessionEndsWhenDisconnected(t *testing.T) {
	srv, coord, ts := newTestServer(t)
	conn := dial(t, ts, "user_id=u2&timestamp=1&auth=ok")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bye")))
	assert.Eventually(t, func() bool {
		return srv.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(coord.disconnects()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"s-u2"}, coord.disconnects())
}

func TestServer_StopClosesSessions(t *testing.T) {
	srv, coord, ts := newTestServer(t)
	conn := dial(t, ts, "user_id=u3&timestamp=1&auth=ok")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Count() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	assert.Equal(t, 0, srv.Count())
	assert.Equal(t, []string{"s-u3"}, coord.disconnects())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestHandshakeFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?user_id=%20u1%20&timestamp=1700000000&auth=abc", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	hs := handshakeFromRequest(req)
	assert.Equal(t, session.Handshake{UserID: "u1", Timestamp: "1700000000", Auth: "abc", Token: "admin-token"}, hs)

	req = httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	req.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "q", handshakeFromRequest(req).Token)
}
