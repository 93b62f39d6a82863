package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"senweaver-server-go/internal/app/session"
	"senweaver-server-go/internal/platform/logging"
	"senweaver-server-go/internal/platform/observability"
)

const (
	logTag          = "WebSocket"
	defaultReadSize = 1 << 20
)

// Router is responsible for upgrading HTTP connections to websocket sessions.
type Router struct {
	hub         *Hub
	coordinator Coordinator
	logger      *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	readLimit        int64
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	CheckOrigin      func(r *http.Request) bool
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, coordinator Coordinator, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin:      opts.CheckOrigin,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadSize
	}

	return &Router{
		hub:              hub,
		coordinator:      coordinator,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		readLimit:        readLimit,
	}
}

// Handle upgrades the HTTP connection and launches a new websocket session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	hs := handshakeFromRequest(req)

	// 会话生命周期不跟随 HTTP 请求
	base := context.WithoutCancel(req.Context())
	handshakeCtx, cancel := context.WithTimeoutCause(base, r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handshake")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		r.logger.ErrorTag(logTag, "握手失败: %v", err)
		return
	}
	socket.SetReadLimit(r.readLimit)

	conn := NewConnection(uuid.NewString(), socket)
	state, err := r.coordinator.Connect(spanCtx, conn, hs)
	if err != nil {
		spanErr = err
		if !errors.Is(err, session.ErrAuthenticationFailed) && !errors.Is(err, session.ErrSessionGone) {
			r.logger.ErrorTag(logTag, "建立会话失败 user_id=%s: %v", hs.UserID, err)
		}
		_ = conn.Close(websocket.CloseInternalServerErr, "")
		return
	}
	r.logger.InfoTag(logTag, "建立连接 client=%s user=%s addr=%s", state.ID(), hs.UserID, conn.RemoteAddr())

	sess := NewSession(base, state, conn, r.coordinator, r.logger)
	r.hub.Register(sess)

	go sess.Run(func(runErr error) {
		r.hub.Unregister(sess.ID())
		if runErr != nil {
			r.logger.WarnTag(logTag, "会话 %s 异常结束: %v", sess.ID(), runErr)
		}
	})
}

// handshakeFromRequest reads the handshake parameters. The admin token may
// also arrive as a bearer header.
func handshakeFromRequest(req *http.Request) session.Handshake {
	q := req.URL.Query()
	hs := session.Handshake{
		UserID:    strings.TrimSpace(q.Get("user_id")),
		Timestamp: strings.TrimSpace(q.Get("timestamp")),
		Auth:      strings.TrimSpace(q.Get("auth")),
		Token:     strings.TrimSpace(q.Get("token")),
	}
	if hs.Token == "" {
		if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			hs.Token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	return hs
}
