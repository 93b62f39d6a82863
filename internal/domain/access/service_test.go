package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senweaver-server-go/internal/domain/access"
	"senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/platform/storage"
	"senweaver-server-go/internal/platform/storage/storagetest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T, limit int64) (*access.Service, *clock) {
	t.Helper()
	svc := access.NewService(storage.NewAccessRepository(storagetest.NewDB(t)),
		access.Defaults{UsageLimit: limit, ResetDays: 30}, nil)
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(c.now)
	return svc, c
}

func TestService_EnsureUser(t *testing.T) {
	svc, _ := newService(t, 10)
	ctx := context.Background()

	_, err := svc.EnsureUser(ctx, "  ")
	assert.ErrorIs(t, err, access.ErrEmptyIdentity)

	user, err := svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.UserActive, user.Status)
	require.NotNil(t, user.LastSeenAt)

	got, err := svc.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	unknown, err := svc.Lookup(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestService_Touch(t *testing.T) {
	svc, c := newService(t, 10)
	ctx := context.Background()

	require.NoError(t, svc.Touch(ctx, "ghost"))
	ghost, err := svc.Lookup(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost, "touch never creates users")

	_, err = svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.Ban(ctx, "u1")
	require.NoError(t, err)

	c.advance(time.Hour)
	require.NoError(t, svc.Touch(ctx, "u1"))
	user, err := svc.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user.LastSeenAt)
	assert.True(t, user.LastSeenAt.Equal(c.now()))
	assert.Equal(t, model.UserBanned, user.Status)
}

func TestService_RecordUsageExhaustsOnce(t *testing.T) {
	svc, _ := newService(t, 3)
	ctx := context.Background()

	var results []*model.UsageResult
	for i := 0; i < 4; i++ {
		res, err := svc.RecordUsage(ctx, model.UsageEntry{UserID: "u1", ModelName: "deepseek-chat", Inc: 1})
		require.NoError(t, err)
		results = append(results, res)
	}

	assert.False(t, results[1].JustExhausted)
	assert.True(t, results[2].JustExhausted)
	assert.False(t, results[2].Access.Enabled)
	assert.Equal(t, model.ReasonUsageLimit, results[2].Access.DisabledReason)

	// 已禁用后不再计数
	assert.False(t, results[3].JustExhausted)
	assert.Equal(t, int64(3), results[3].Access.Used)
	assert.Equal(t, int64(3), results[3].Access.UsedTotal)

	_, err := svc.RecordUsage(ctx, model.UsageEntry{UserID: "u1", Inc: 0})
	assert.ErrorIs(t, err, access.ErrInvalidUsage)
}

func TestService_PeriodResetReenables(t *testing.T) {
	svc, clk := newService(t, 2)
	ctx := context.Background()

	_, err := svc.RecordUsage(ctx, model.UsageEntry{UserID: "u1", Inc: 2})
	require.NoError(t, err)
	standing, err := svc.Standing(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, standing.Blocked())
	assert.Equal(t, model.ReasonUsageLimit, standing.Reason())

	clk.advance(29 * 24 * time.Hour)
	status, err := svc.AccessStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	clk.advance(24 * time.Hour)
	status, err = svc.AccessStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Zero(t, status.Used)
	assert.Equal(t, int64(2), status.UsedTotal)
}

func TestService_ManualDisableSurvivesReset(t *testing.T) {
	svc, clk := newService(t, 100)
	ctx := context.Background()

	status, err := svc.SetAccess(ctx, "u1", access.AccessUpdate{Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, model.ReasonManual, status.DisabledReason)

	clk.advance(31 * 24 * time.Hour)
	status, err = svc.AccessStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	limit := int64(5)
	status, err = svc.SetAccess(ctx, "u1", access.AccessUpdate{Enabled: true, Limit: &limit, ResetUsed: true})
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Empty(t, status.DisabledReason)
	assert.Equal(t, int64(5), status.Limit)
}

func TestService_BanUnban(t *testing.T) {
	svc, _ := newService(t, 10)
	ctx := context.Background()

	_, err := svc.Ban(ctx, "ghost")
	assert.ErrorIs(t, err, access.ErrUserNotFound)

	_, err = svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	user, err := svc.Ban(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, user.Banned())

	standing, err := svc.Standing(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, standing.Blocked())
	assert.Equal(t, model.ReasonBanned, standing.Reason())

	users, total, err := svc.ListUsers(ctx, model.UserBanned, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, users, 1)

	_, err = svc.Unban(ctx, "u1")
	require.NoError(t, err)
	standing, err = svc.Standing(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, standing.Blocked())
}

func TestService_StandingUnknownUser(t *testing.T) {
	svc, _ := newService(t, 10)
	standing, err := svc.Standing(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, standing.User)
	assert.False(t, standing.Blocked())
}
