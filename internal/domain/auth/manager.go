package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"senweaver-server-go/internal/domain/auth/model"
	"senweaver-server-go/internal/domain/auth/store"
)

type (
	// AdminSession re-exports the shared auth entity for callers.
	AdminSession = model.AdminSession
	// Logger re-exports the logging interface used across the domain.
	Logger = model.Logger
)

const (
	defaultCleanupInterval = 10 * time.Minute
	minCleanupInterval     = 30 * time.Second
)

var (
	// ErrInvalidCredentials is returned by Login for a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid admin credentials")
	// ErrSessionRevoked is returned when a valid token has no stored session.
	ErrSessionRevoked = errors.New("admin session revoked or expired")
)

// Options encapsulates the dependencies required to construct a Manager.
type Options struct {
	Store           store.Store
	Logger          Logger
	Tokens          *AdminToken
	Username        string
	Password        string
	CleanupInterval time.Duration
}

// LoginResult is handed back to the admin console.
type LoginResult struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager coordinates admin logins, tokens and session storage.
type Manager struct {
	store    store.Store
	logger   Logger
	tokens   *AdminToken
	username string
	password string

	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupOnce     sync.Once
}

// NewManager wires a Manager using the supplied options.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("auth manager requires a store")
	}
	if opts.Logger == nil {
		return nil, errors.New("auth manager requires a logger")
	}
	if opts.Tokens == nil {
		return nil, errors.New("auth manager requires a token helper")
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("auth manager requires admin credentials")
	}
	cleanupInterval := opts.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	} else if cleanupInterval < minCleanupInterval {
		opts.Logger.Warn("cleanup interval too small, adjusting to minimum %s", minCleanupInterval)
		cleanupInterval = minCleanupInterval
	}
	mgr := &Manager{
		store:           opts.Store,
		logger:          opts.Logger,
		tokens:          opts.Tokens,
		username:        opts.Username,
		password:        opts.Password,
		cleanupInterval: cleanupInterval,
		cleanupStop:     make(chan struct{}),
	}

	go mgr.runCleanup()
	return mgr, nil
}

func (m *Manager) runCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.store.CleanupExpired(context.Background()); err != nil {
				m.logger.Warn("清理过期管理员会话失败: %v", err)
			}
		case <-m.cleanupStop:
			return
		}
	}
}

// Login checks the configured admin credentials and opens a session.
func (m *Manager) Login(ctx context.Context, username, password, ip string) (LoginResult, error) {
	if err := ctx.Err(); err != nil {
		return LoginResult{}, err
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
	if !userOK || !passOK {
		m.logger.Warn("管理员登录失败: %s (%s)", username, ip)
		return LoginResult{}, ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	token, expiresAt, err := m.tokens.Generate(sessionID, username)
	if err != nil {
		return LoginResult{}, err
	}
	session := model.AdminSession{
		SessionID: sessionID,
		Username:  username,
		IP:        ip,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: &expiresAt,
	}
	if err := m.store.Save(ctx, session); err != nil {
		m.logger.Error("保存管理员会话失败: %s: %v", sessionID, err)
		return LoginResult{}, err
	}
	m.logger.Info("管理员登录: %s (%s)", username, ip)
	return LoginResult{Token: token, SessionID: sessionID, Username: username, ExpiresAt: expiresAt}, nil
}

// VerifyAdminToken checks the signature, expiry and that the session still exists.
func (m *Manager) VerifyAdminToken(ctx context.Context, token string) (AdminSession, error) {
	if token == "" {
		return AdminSession{}, fmt.Errorf("empty admin token")
	}
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return AdminSession{}, err
	}
	session, err := m.store.Get(ctx, claims.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return AdminSession{}, ErrSessionRevoked
	}
	if err != nil {
		return AdminSession{}, err
	}
	return session, nil
}

// Logout removes the session bound to token.
func (m *Manager) Logout(ctx context.Context, token string) error {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return err
	}
	if err := m.store.Remove(ctx, claims.SessionID); err != nil {
		return err
	}
	m.logger.Info("管理员登出: %s", claims.Username)
	return nil
}

// Sessions lists live admin session identifiers.
func (m *Manager) Sessions(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Stats returns debug information from the store backend.
func (m *Manager) Stats(ctx context.Context) (map[string]any, error) {
	return m.store.Stats(ctx)
}

// Close releases underlying resources.
func (m *Manager) Close() error {
	var err error
	m.cleanupOnce.Do(func() {
		close(m.cleanupStop)
		if closeErr := m.store.Close(context.Background()); closeErr != nil {
			err = closeErr
			m.logger.Error("关闭管理员会话存储失败: %v", closeErr)
		}
	})
	return err
}
