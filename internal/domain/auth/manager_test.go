package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senweaver-server-go/internal/domain/auth/store"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(Options{
		Store:    store.NewMemory(store.Config{TTL: time.Hour}),
		Logger:   nopLogger{},
		Tokens:   NewAdminToken("jwt-secret").WithTTL(time.Hour),
		Username: "admin",
		Password: "pw",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestManager_LoginVerifyLogout(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	res, err := mgr.Login(ctx, "admin", "pw", "127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	session, err := mgr.VerifyAdminToken(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", session.Username)
	assert.Equal(t, res.SessionID, session.SessionID)

	ids, err := mgr.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.SessionID}, ids)

	require.NoError(t, mgr.Logout(ctx, res.Token))
	_, err = mgr.VerifyAdminToken(ctx, res.Token)
	assert.True(t, errors.Is(err, ErrSessionRevoked))
}

func TestManager_LoginRejectsBadPassword(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Login(context.Background(), "admin", "nope", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestManager_VerifyRejectsForeignToken(t *testing.T) {
	mgr := newTestManager(t)
	other := NewAdminToken("other-secret")
	token, _, err := other.Generate("sid", "admin")
	require.NoError(t, err)

	_, err = mgr.VerifyAdminToken(context.Background(), token)
	assert.Error(t, err)
	_, err = mgr.VerifyAdminToken(context.Background(), "")
	assert.Error(t, err)
}

func TestAdminToken_Expired(t *testing.T) {
	tokens := NewAdminToken("k").WithTTL(time.Minute)
	issued := time.Now().Add(-2 * time.Minute)
	tokens.now = func() time.Time { return issued }
	token, _, err := tokens.Generate("sid", "admin")
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Verify(token)
	assert.Error(t, err)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
	_, err = NewManager(Options{Store: store.NewMemory(store.Config{}), Logger: nopLogger{}, Tokens: NewAdminToken("k")})
	assert.Error(t, err)
}
