package eventbus_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senweaver-server-go/internal/domain/eventbus"
	"senweaver-server-go/internal/domain/eventbus/infrastructure"
	"senweaver-server-go/internal/domain/eventbus/repository"
	"senweaver-server-go/internal/platform/storage/storagetest"
)

func TestBus_SyncAndAsyncDelivery(t *testing.T) {
	bus := eventbus.New(2, nil)
	defer bus.Close()

	var syncHits, asyncHits atomic.Int32
	require.NoError(t, bus.Subscribe(eventbus.EventVersionUpdated, func(data eventbus.VersionEventData) {
		syncHits.Add(1)
	}))
	require.NoError(t, bus.SubscribeAsync(eventbus.EventVersionUpdated, func(data eventbus.VersionEventData) {
		asyncHits.Add(1)
	}))

	bus.Publish(eventbus.EventVersionUpdated, eventbus.VersionEventData{Version: "1.0.1"})
	assert.Equal(t, int32(1), syncHits.Load())

	bus.Flush()
	assert.Equal(t, int32(1), asyncHits.Load())
	assert.Zero(t, bus.Dropped())
}

func TestAsyncEventBus_RecoversFromPanic(t *testing.T) {
	aeb := eventbus.NewAsyncEventBus(1, nil)
	aeb.Start()
	defer aeb.Stop()

	var after atomic.Bool
	require.NoError(t, aeb.Subscribe("boom", func() { panic("bad handler") }))
	require.NoError(t, aeb.Subscribe("ok", func() { after.Store(true) }))

	aeb.PublishAsync("boom")
	aeb.PublishAsync("ok")
	aeb.Wait()
	assert.True(t, after.Load())
}

func TestRecorder_PersistsEvents(t *testing.T) {
	repo := infrastructure.NewEventRepository(storagetest.NewDB(t))
	bus := eventbus.New(1, nil)
	defer bus.Close()
	require.NoError(t, eventbus.NewRecorder(repo, nil).Attach(bus))

	now := time.Now().UTC()
	bus.Publish(eventbus.EventSessionClosed, eventbus.SessionEventData{
		SessionID:   "s1",
		UserID:      "u1",
		ConnectedAt: now,
	})
	bus.Publish(eventbus.EventUserUpdated, eventbus.UserEventData{UserID: "u1", Action: "ban"})
	bus.Flush()

	audit := eventbus.NewAudit(repo, 0, nil)
	ctx := context.Background()

	bySession, total, err := audit.List(ctx, repository.EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, eventbus.EventSessionClosed, bySession[0].EventType)

	byUser, total, err := audit.List(ctx, repository.EventFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, eventbus.EventUserUpdated, byUser[0].EventType, "newest first")

	page, total, err := audit.List(ctx, repository.EventFilter{UserID: "u1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, eventbus.EventSessionClosed, page[0].EventType)

	stats, err := audit.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[eventbus.EventUserUpdated])

	stats, err = audit.Stats(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stats)

	// 未配置保留期时不清理
	n, err := audit.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAudit_SweepsExpiredEvents(t *testing.T) {
	repo := infrastructure.NewEventRepository(storagetest.NewDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Store(ctx, repository.Event{EventType: eventbus.EventVersionUpdated, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.Store(ctx, repository.Event{EventType: eventbus.EventVersionUpdated, CreatedAt: now}))

	audit := eventbus.NewAudit(repo, 24*time.Hour, nil)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- audit.RunRetention(runCtx, time.Hour) }()

	assert.Eventually(t, func() bool {
		_, total, err := repo.List(ctx, repository.EventFilter{})
		return err == nil && total == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retention loop did not stop")
	}

	n, err := eventbus.NewAudit(repo, 0, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
