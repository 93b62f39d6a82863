package storage_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessmodel "senweaver-server-go/internal/domain/access/model"
	accessrepo "senweaver-server-go/internal/domain/access/repository"
	"senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/keypool/repository"
	"senweaver-server-go/internal/platform/storage"
	"senweaver-server-go/internal/platform/storage/migrations"
	"senweaver-server-go/internal/platform/storage/storagetest"
)

func seedPool(t *testing.T, repo repository.Repository, maxClients int) (*model.Provider, *model.Pool) {
	t.Helper()
	ctx := context.Background()
	provider := &model.Provider{Name: model.ProviderDeepSeek, BaseURL: "https://api.deepseek.com", Active: true}
	require.NoError(t, repo.SaveProvider(ctx, provider))
	pool := &model.Pool{ProviderID: provider.ID, Name: "k1", Secret: "sk-one", Active: true, MaxClients: maxClients}
	require.NoError(t, repo.SavePool(ctx, pool))
	return provider, pool
}

func TestMigrations_Idempotent(t *testing.T) {
	db := storagetest.NewDB(t)
	manager := storage.NewMigrationManager(db)
	manager.AddMigration(migrations.All()...)

	pending, err := manager.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	ran, err := manager.RunMigrations()
	require.NoError(t, err)
	assert.Empty(t, ran)

	history, err := manager.GetMigrationHistory()
	require.NoError(t, err)
	assert.Len(t, history, len(migrations.All()))
}

func TestMigrations_Rollback(t *testing.T) {
	db := storagetest.NewDB(t)
	manager := storage.NewMigrationManager(db)
	manager.AddMigration(migrations.All()...)

	require.NoError(t, manager.RollbackMigration("003_access"))
	assert.False(t, db.Migrator().HasTable("model_access"))

	pending, err := manager.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{"003_access"}, pending)

	assert.Error(t, manager.RollbackMigration("999_missing"))
}

func TestKeyPool_ClaimSlotRespectsCapacity(t *testing.T) {
	repo := storage.NewKeyPoolRepository(storagetest.NewDB(t))
	_, pool := seedPool(t, repo, 2)
	ctx := context.Background()

	var claimed []bool
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.WithTx(ctx, func(tx repository.Tx) error {
			ok, err := tx.ClaimSlot(pool.ID)
			claimed = append(claimed, ok)
			return err
		}))
	}
	assert.Equal(t, []bool{true, true, false}, claimed)

	got, err := repo.FindPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentClients)
}

func TestKeyPool_ResizePool(t *testing.T) {
	repo := storage.NewKeyPoolRepository(storagetest.NewDB(t))
	_, pool := seedPool(t, repo, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.WithTx(ctx, func(tx repository.Tx) error {
			_, err := tx.ClaimSlot(pool.ID)
			return err
		}))
	}

	ok, err := repo.ResizePool(ctx, pool.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "below current usage")

	ok, err = repo.ResizePool(ctx, pool.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ResizePool(ctx, 9999, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MaxClients)
	assert.Equal(t, 2, got.CurrentClients)

	ok, err = repo.ResizePool(ctx, pool.ID, -1)
	require.NoError(t, err)
	assert.True(t, ok)

	// 普通保存不会覆盖容量
	got.Name = "renamed"
	got.MaxClients = 1
	require.NoError(t, repo.SavePool(ctx, got))
	assert.Equal(t, -1, got.MaxClients)
	assert.Equal(t, "renamed", got.Name)
}

func TestKeyPool_ClaimSlotConcurrent(t *testing.T) {
	repo := storage.NewKeyPoolRepository(storagetest.NewDB(t))
	_, pool := seedPool(t, repo, 3)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.WithTx(ctx, func(tx repository.Tx) error {
				ok, err := tx.ClaimSlot(pool.ID)
				if ok {
					wins.Add(1)
				}
				return err
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), wins.Load())
	got, err := repo.FindPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentClients)
}

func TestKeyPool_FreeSlotNeverNegative(t *testing.T) {
	repo := storage.NewKeyPoolRepository(storagetest.NewDB(t))
	_, pool := seedPool(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, repo.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.FreeSlot(pool.ID); err != nil {
			return err
		}
		return tx.FreeSlot(pool.ID)
	}))
	got, err := repo.FindPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentClients)
}

func TestKeyPool_OneActiveAllocationPerProvider(t *testing.T) {
	repo := storage.NewKeyPoolRepository(storagetest.NewDB(t))
	provider, pool := seedPool(t, repo, model.Unlimited)
	ctx := context.Background()

	first := &model.Allocation{PoolID: pool.ID, ProviderID: provider.ID, ClientID: "c1"}
	require.NoError(t, repo.WithTx(ctx, func(tx repository.Tx) error {
		return tx.CreateAllocation(first)
	}))

	err := repo.WithTx(ctx, func(tx repository.Tx) error {
		return tx.CreateAllocation(&model.Allocation{PoolID: pool.ID, ProviderID: provider.ID, ClientID: "c1"})
	})
	assert.Error(t, err)

	// 关闭后可以重新分配
	require.NoError(t, repo.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.CloseAllocation(first.ID, time.Now()); err != nil {
			return err
		}
		return tx.CreateAllocation(&model.Allocation{PoolID: pool.ID, ProviderID: provider.ID, ClientID: "c1"})
	}))

	all, err := repo.ListAllocations(ctx, repository.AllocationFilter{ClientID: "c1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Active)
	assert.NotNil(t, all[0].ReleasedAt)
	assert.True(t, all[1].Active)
	assert.Equal(t, model.ProviderDeepSeek, all[1].Provider)
}

func TestKeyPool_CandidateOrder(t *testing.T) {
	repo := storage.NewKeyPoolRepository(storagetest.NewDB(t))
	provider, busy := seedPool(t, repo, 5)
	ctx := context.Background()

	for _, name := range []string{"b", "a"} {
		require.NoError(t, repo.SavePool(ctx, &model.Pool{
			ProviderID: provider.ID, Name: name, Secret: "sk-" + name, Active: true, MaxClients: 1,
		}))
	}
	require.NoError(t, repo.SavePool(ctx, &model.Pool{
		ProviderID: provider.ID, Name: "off", Secret: "sk-off", Active: false, MaxClients: 1,
	}))

	var names []string
	require.NoError(t, repo.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.ClaimSlot(busy.ID); err != nil {
			return err
		}
		pools, err := tx.CandidatePools(provider.ID)
		for _, p := range pools {
			names = append(names, p.Name)
		}
		return err
	}))
	assert.Equal(t, []string{"a", "b", "k1"}, names)
}

func TestAccess_SaveAndUsage(t *testing.T) {
	repo := storage.NewAccessRepository(storagetest.NewDB(t))
	ctx := context.Background()

	missing, err := repo.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	user := &accessmodel.User{UserID: "u1"}
	require.NoError(t, repo.SaveUser(ctx, user))
	assert.Equal(t, accessmodel.UserActive, user.Status)
	assert.NotZero(t, user.ID)

	user.Status = accessmodel.UserBanned
	require.NoError(t, repo.SaveUser(ctx, user))
	users, total, err := repo.ListUsers(ctx, accessmodel.UserBanned, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "u1", users[0].UserID)

	now := time.Now().UTC()
	require.NoError(t, repo.WithTx(ctx, func(tx accessrepo.Repository) error {
		if err := tx.SaveAccess(ctx, &accessmodel.Access{UserID: "u1", Enabled: true, Limit: 5, ResetDays: 30, LastResetTime: &now}); err != nil {
			return err
		}
		return tx.AppendUsage(ctx, accessmodel.UsageEntry{UserID: "u1", ModelName: "deepseek-chat", Inc: 2})
	}))

	access, err := repo.FindAccess(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, access)
	assert.Equal(t, int64(5), access.Limit)
	assert.True(t, access.Enabled)
}
