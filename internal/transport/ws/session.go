package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"senweaver-server-go/internal/app/session"
	domain "senweaver-server-go/internal/domain/session"
	"senweaver-server-go/internal/platform/logging"
)

const defaultCloseTimeout = 5 * time.Second

// Coordinator is the session lifecycle the transport drives.
type Coordinator interface {
	Connect(ctx context.Context, ch domain.Channel, hs session.Handshake) (*domain.Session, error)
	HandleMessage(ctx context.Context, sess *domain.Session, raw []byte)
	Disconnect(ctx context.Context, sess *domain.Session)
}

// Session runs the read loop of one accepted websocket connection.
type Session struct {
	state       *domain.Session
	conn        *Connection
	coordinator Coordinator
	logger      *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, state *domain.Session, conn *Connection, coordinator Coordinator, logger *logging.Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		state:       state,
		conn:        conn,
		coordinator: coordinator,
		logger:      logger,
		ctx:         sessionCtx,
		cancel:      cancel,
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.state.ID()
}

// Run reads frames until the connection drops and invokes onDone once exiting.
func (s *Session) Run(onDone func(error)) {
	var runErr error
	defer func() {
		s.Close(runErr)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.conn.IsClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				runErr = err
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.coordinator.HandleMessage(s.ctx, s.state, payload)
		if s.state.State() == domain.StateDisconnected {
			return
		}
	}
}

// Close hands the session back to the coordinator for cleanup.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.cancel != nil {
		s.cancel(reason)
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, reason)
	defer cancel()
	s.coordinator.Disconnect(shutdownCtx, s.state)

	if err := s.conn.Close(websocket.CloseNormalClosure, ""); err != nil && !errors.Is(err, ErrConnectionClosed) {
		s.logger.WarnTag("WebSocket", "会话 %s 关闭连接失败: %v", s.ID(), err)
	}
}
