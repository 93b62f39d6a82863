// Package session runs the lifecycle of long-lived client channels: it
// authenticates them, keeps one live session per identity, hands out
// credentials through the key pool engine and keeps the client's cached
// credentials convergent with the server's bindings.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	accessmodel "senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/domain/auth"
	"senweaver-server-go/internal/domain/eventbus"
	"senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/session"
	"senweaver-server-go/internal/platform/logging"
	"senweaver-server-go/internal/platform/observability"
)

const logTag = "会话"

var (
	// ErrAuthenticationFailed is returned by Connect when the handshake signature is bad.
	ErrAuthenticationFailed = errors.New("connection authentication failed")
	// ErrSessionGone is returned when sending to a session without a live channel.
	ErrSessionGone = errors.New("session has no live channel")
)

// Engine is the credential allocation surface the coordinator drives.
type Engine interface {
	ActiveProviders(ctx context.Context) ([]model.Provider, error)
	Allocate(ctx context.Context, provider model.ProviderName, sessionID, identity string) (model.Credential, bool, error)
	AllocateAll(ctx context.Context, sessionID, identity string) (model.ProviderCredentials, error)
	Release(ctx context.Context, sessionID string, provider model.ProviderName) (int, error)
	ReleaseByIdentity(ctx context.Context, identity string) (int, error)
	Validate(ctx context.Context, provider model.ProviderName, sessionID, presented string) (bool, error)
	Reconcile(ctx context.Context, provider model.ProviderName, sessionID, presented, identity string) (bool, error)
	BoundProviders(ctx context.Context, sessionID string) ([]model.ProviderName, error)
}

// Access is the identity, ban and usage accounting surface.
type Access interface {
	EnsureUser(ctx context.Context, userID string) (*accessmodel.User, error)
	Standing(ctx context.Context, userID string) (*accessmodel.Standing, error)
	RecordUsage(ctx context.Context, entry accessmodel.UsageEntry) (*accessmodel.UsageResult, error)
	Touch(ctx context.Context, userID string) error
}

// Verifier checks connection and heartbeat signatures.
type Verifier interface {
	VerifyConnection(identity, timestamp, signature string) bool
	VerifyHeartbeat(identity, timestamp, signature string) bool
}

// AdminVerifier resolves admin tokens presented on the handshake.
type AdminVerifier interface {
	VerifyAdminToken(ctx context.Context, token string) (auth.AdminSession, error)
}

// Handshake carries the query parameters of a new channel.
type Handshake struct {
	UserID    string
	Timestamp string
	Auth      string
	Token     string
}

// Options configures a Coordinator.
type Options struct {
	Engine            Engine
	Access            Access
	Verifier          Verifier
	Admins            AdminVerifier
	Registry          *session.Registry
	Events            eventbus.Publisher
	Logger            *logging.Logger
	Metrics           *observability.Metrics
	Version           string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	Clock             func() time.Time
}

// Coordinator owns every live session of this process.
type Coordinator struct {
	engine   Engine
	access   Access
	verifier Verifier
	admins   AdminVerifier
	registry *session.Registry
	events   eventbus.Publisher
	logger   *logging.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	interval     time.Duration
	writeTimeout time.Duration

	versionMu sync.RWMutex
	version   string
	versionCh chan struct{}
}

// New builds a coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Engine == nil || opts.Access == nil || opts.Verifier == nil {
		return nil, errors.New("session coordinator requires engine, access and verifier")
	}
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		engine:       opts.Engine,
		access:       opts.Access,
		verifier:     opts.Verifier,
		admins:       opts.Admins,
		registry:     opts.Registry,
		events:       opts.Events,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Clock,
		interval:     opts.HeartbeatInterval,
		writeTimeout: opts.WriteTimeout,
		version:      opts.Version,
		versionCh:    make(chan struct{}, 1),
	}, nil
}

// Registry exposes the session registry for read-only views.
func (c *Coordinator) Registry() *session.Registry {
	return c.registry
}

// Connect authenticates a new channel, enforces one live session per
// identity and sends the welcome message with the session's credentials.
func (c *Coordinator) Connect(ctx context.Context, ch session.Channel, hs Handshake) (*session.Session, error) {
	if hs.UserID != "" && !c.verifier.VerifyConnection(hs.UserID, hs.Timestamp, hs.Auth) {
		c.metrics.RecordAuthFailure(auth.PurposeConnection)
		c.logger.WarnTag(logTag, "客户端连接验证失败: user_id=%s timestamp=%s", hs.UserID, hs.Timestamp)
		_ = ch.Close(ClosePolicyViolation, ReasonAuthFailed)
		return nil, ErrAuthenticationFailed
	}

	privileged := false
	if hs.Token != "" && c.admins != nil {
		admin, err := c.admins.VerifyAdminToken(ctx, hs.Token)
		if err != nil {
			c.logger.WarnTag(logTag, "管理员令牌无效: %v", err)
		} else {
			privileged = true
			c.logger.InfoTag(logTag, "管理员 %s 已连接", admin.Username)
		}
	}

	sess := session.New(uuid.NewString(), hs.UserID, ch.RemoteAddr(), privileged, c.now())
	c.registry.Register(sess, ch)
	sess.SetState(session.StateAuthenticated)

	if hs.UserID != "" {
		if _, err := c.access.EnsureUser(ctx, hs.UserID); err != nil {
			c.logger.ErrorTag(logTag, "创建用户 %s 失败: %v", hs.UserID, err)
		}
		unlock := c.registry.LockIdentity(hs.UserID)
		c.evictOthers(ctx, sess, hs.UserID)
		c.registry.MarkOnline(sess.ID())
		unlock()
	} else {
		c.registry.MarkOnline(sess.ID())
	}
	c.metrics.SetOnlineSessions(c.registry.CountOnline())

	err := c.welcome(ctx, sess)
	if sess.State() == session.StateDisconnected {
		// 欢迎消息发出前已被同一用户的新连接挤下线
		if _, relErr := c.engine.Release(ctx, sess.ID(), ""); relErr != nil {
			c.logger.ErrorTag(logTag, "释放客户端 %s 的密钥失败: %v", sess.ID(), relErr)
		}
		return nil, ErrSessionGone
	}
	if err != nil {
		return nil, err
	}
	c.registry.Activate(sess.ID())

	c.publish(eventbus.EventSessionOpened, sessionEvent(sess.Snapshot(), ""))
	c.logger.InfoTag(logTag, "客户端 %s 已连接 (用户 %s)", sess.ID(), hs.UserID)
	return sess, nil
}

func (c *Coordinator) welcome(ctx context.Context, sess *session.Session) error {
	identity := sess.Identity()
	msg := connectionMessage{
		Type:      TypeConnection,
		Message:   msgConnected,
		ClientID:  sess.ID(),
		UserID:    identity,
		Version:   c.Version(),
		Timestamp: stamp(c.now()),
	}

	providers, err := c.engine.ActiveProviders(ctx)
	if err != nil {
		c.logger.ErrorTag(logTag, "获取活跃供应商失败: %v", err)
	}

	var standing *accessmodel.Standing
	if identity != "" && !sess.Privileged() {
		standing, err = c.access.Standing(ctx, identity)
		if err != nil {
			c.logger.ErrorTag(logTag, "查询用户 %s 状态失败: %v", identity, err)
		}
	}

	poolFull := false
	switch {
	case sess.Privileged():
		msg.Message = msgConnectedAdmin
	case standing.Blocked():
		sess.SetAccessEnabled(false)
		msg.Message = msgConnectedDisabled
		msg.ModelAccess = standingPayload(standing)
		msg.ModelProviders = disabledCredentials(providers)
	default:
		msg.ModelAccess = standingPayload(standing)
		creds, err := c.engine.AllocateAll(ctx, sess.ID(), identity)
		if err != nil {
			c.logger.ErrorTag(logTag, "为客户端 %s 分配密钥失败: %v", sess.ID(), err)
		}
		if len(creds) > 0 {
			msg.ModelProviders = creds
		} else if len(providers) > 0 {
			msg.Message = msgConnectedPoolFull
			poolFull = true
		}
	}

	if err := c.send(ctx, sess, msg); err != nil {
		return err
	}
	if poolFull {
		c.logger.WarnTag(logTag, "客户端 %s 连接成功，但未分配密钥（密钥池已满）", sess.ID())
		return c.sendError(ctx, sess, msgPoolFull, CodeKeyPoolFull)
	}
	return nil
}

// evictOthers closes every other online session of identity. The caller
// holds the identity lock.
func (c *Coordinator) evictOthers(ctx context.Context, current *session.Session, identity string) {
	for _, other := range c.registry.LookupByIdentity(identity) {
		if other.ID() == current.ID() || !other.Online() {
			continue
		}
		c.logger.InfoTag(logTag, "用户 %s 在新连接 %s 登录，断开旧连接 %s", identity, current.ID(), other.ID())
		if ch, ok := c.registry.Conn(other.ID()); ok {
			if payload, err := encode(errorMessage{Type: TypeError, Message: msgEvicted}); err == nil {
				sendCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
				_ = ch.Send(sendCtx, payload)
				cancel()
			}
		}
		c.metrics.RecordEviction()
		c.publish(eventbus.EventSessionEvicted, sessionEvent(other.Snapshot(), "evicted by "+current.ID()))
		c.terminate(ctx, other, CloseNormal, msgEvicted)
	}
}

// switchIdentity attaches identity to the session, evicting other sessions
// of that identity when it changes.
func (c *Coordinator) switchIdentity(ctx context.Context, sess *session.Session, identity string) {
	if identity == "" || identity == sess.Identity() {
		return
	}
	if _, err := c.access.EnsureUser(ctx, identity); err != nil {
		c.logger.ErrorTag(logTag, "创建用户 %s 失败: %v", identity, err)
	}
	unlock := c.registry.LockIdentity(identity)
	defer unlock()
	c.registry.SetIdentity(sess.ID(), identity)
	c.evictOthers(ctx, sess, identity)
}

// Disconnect tears the session down. Only the first call does anything.
func (c *Coordinator) Disconnect(ctx context.Context, sess *session.Session) {
	if sess == nil || !sess.SetState(session.StateDisconnected) {
		return
	}
	if ch, ok := c.registry.Conn(sess.ID()); ok {
		_ = ch.Close(CloseNormal, "")
	}
	if _, err := c.engine.Release(ctx, sess.ID(), ""); err != nil {
		c.logger.ErrorTag(logTag, "释放客户端 %s 的密钥失败: %v", sess.ID(), err)
	}
	c.registry.MarkOffline(sess.ID())
	snapshot := sess.Snapshot()
	c.registry.Remove(sess.ID())
	c.metrics.SetOnlineSessions(c.registry.CountOnline())

	c.publish(eventbus.EventSessionClosed, sessionEvent(snapshot, ""))
	if snapshot.UserID != "" {
		c.PushToAdmins(ctx, PushMessage{Type: TypeSessionUpdate, Data: snapshot})
	}
	c.logger.InfoTag(logTag, "客户端 %s 已断开 (用户 %s)", snapshot.SessionID, snapshot.UserID)
}

// terminate closes the channel with code and reason and cleans up.
func (c *Coordinator) terminate(ctx context.Context, sess *session.Session, code int, reason string) {
	if ch, ok := c.registry.Conn(sess.ID()); ok {
		_ = ch.Close(code, reason)
	}
	c.Disconnect(ctx, sess)
}

// send delivers one message. A failed write ends the session.
func (c *Coordinator) send(ctx context.Context, sess *session.Session, msg any) error {
	ch, ok := c.registry.Conn(sess.ID())
	if !ok {
		return ErrSessionGone
	}
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, payload); err != nil {
		c.logger.WarnTag(logTag, "向客户端 %s 发送消息失败，断开连接: %v", sess.ID(), err)
		c.terminate(ctx, sess, CloseNormal, "")
		return err
	}
	return nil
}

func (c *Coordinator) sendError(ctx context.Context, sess *session.Session, message, code string) error {
	return c.send(ctx, sess, errorMessage{Type: TypeError, Message: message, ErrorCode: code})
}

// PushToIdentity sends msg to every live session of identity and returns
// how many were reached.
func (c *Coordinator) PushToIdentity(ctx context.Context, identity string, msg any) int {
	n := 0
	for _, sess := range c.registry.LookupByIdentity(identity) {
		if !sess.Ready() {
			continue
		}
		if c.send(ctx, sess, msg) == nil {
			n++
		}
	}
	return n
}

// PushToAdmins sends msg to every privileged session.
func (c *Coordinator) PushToAdmins(ctx context.Context, msg any) int {
	n := 0
	for _, sess := range c.registry.Online() {
		if !sess.Privileged() {
			continue
		}
		if c.send(ctx, sess, msg) == nil {
			n++
		}
	}
	return n
}

// Version returns the version announced in heartbeats.
func (c *Coordinator) Version() string {
	c.versionMu.RLock()
	defer c.versionMu.RUnlock()
	return c.version
}

// TriggerVersionUpdate sets a new version and wakes the heartbeat loop.
func (c *Coordinator) TriggerVersionUpdate(version string) {
	c.versionMu.Lock()
	c.version = version
	c.versionMu.Unlock()
	select {
	case c.versionCh <- struct{}{}:
	default:
	}
	c.publish(eventbus.EventVersionUpdated, eventbus.VersionEventData{Version: version})
}

// RunHeartbeatLoop broadcasts a heartbeat on every interval or version
// change until ctx is done.
func (c *Coordinator) RunHeartbeatLoop(ctx context.Context) error {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.versionCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		n := c.BroadcastHeartbeat(ctx)
		c.logger.DebugTag(logTag, "心跳广播 version=%s 在线=%d", c.Version(), n)
		timer.Reset(c.interval)
	}
}

// BroadcastHeartbeat sends the version heartbeat to every online session.
func (c *Coordinator) BroadcastHeartbeat(ctx context.Context) int {
	msg := heartbeatMessage{Type: TypeHeartbeat, Version: c.Version(), Timestamp: stamp(c.now())}
	n := 0
	for _, sess := range c.registry.Online() {
		if c.send(ctx, sess, msg) == nil {
			n++
		}
	}
	c.metrics.RecordBroadcast()
	return n
}

// Shutdown disconnects every known session.
func (c *Coordinator) Shutdown(ctx context.Context) {
	for _, snap := range c.registry.Snapshot() {
		if sess, ok := c.registry.Get(snap.SessionID); ok {
			c.terminate(ctx, sess, CloseGoingAway, ReasonShutdown)
		}
	}
}

func (c *Coordinator) publish(topic string, data any) {
	if c.events != nil {
		c.events.Publish(topic, data)
	}
}

func sessionEvent(s session.Snapshot, reason string) eventbus.SessionEventData {
	return eventbus.SessionEventData{
		SessionID:     s.SessionID,
		UserID:        s.UserID,
		Privileged:    s.Privileged,
		RemoteAddr:    s.RemoteAddr,
		ConnectedAt:   s.ConnectedAt,
		LastHeartbeat: s.LastHeartbeat,
		Reason:        reason,
	}
}
