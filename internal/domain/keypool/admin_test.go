package keypool_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senweaver-server-go/internal/domain/keypool"
	"senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/keypool/repository"
)

func TestAdmin_CreateProviderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.admin.CreateProvider(ctx, keypool.ProviderInput{Name: "openai"})
	assert.ErrorIs(t, err, keypool.ErrUnknownProvider)

	_, err = f.admin.CreateProvider(ctx, keypool.ProviderInput{Name: model.ProviderDeepSeek})
	require.NoError(t, err)
	_, err = f.admin.CreateProvider(ctx, keypool.ProviderInput{Name: model.ProviderDeepSeek})
	assert.ErrorIs(t, err, keypool.ErrProviderExists)
}

func TestAdmin_BatchCreateSkipsDuplicates(t *testing.T) {
	f := newFixture(t)
	provider := f.addProvider(t, model.ProviderAlibailian, 1)
	ctx := context.Background()

	created, skipped, err := f.admin.BatchCreatePools(ctx, keypool.BatchInput{
		ProviderID: provider.ID,
		Secrets:    []string{"alibailian-key-1", " k2 ", "k2", "", "k3"},
		MaxClients: 3,
		NamePrefix: "bulk",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, created, 2)
	assert.Equal(t, "bulk_2", created[0].Name)
	assert.Equal(t, "k2", created[0].Secret)
	assert.Equal(t, "bulk_3", created[1].Name)

	_, _, err = f.admin.BatchCreatePools(ctx, keypool.BatchInput{ProviderID: provider.ID, MaxClients: -2})
	assert.ErrorIs(t, err, keypool.ErrInvalidCapacity)
}

func TestAdmin_UpdatePoolCapacity(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, model.ProviderDeepSeek, 3)
	ctx := context.Background()

	for _, s := range []string{"s1", "s2"} {
		_, ok, err := f.engine.Allocate(ctx, model.ProviderDeepSeek, s, "")
		require.NoError(t, err)
		require.True(t, ok)
	}
	views, err := f.admin.ListPools(ctx, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	pool := views[0]
	assert.Equal(t, int64(2), pool.ActiveAllocations)
	assert.Equal(t, "deep****ey-1", pool.MaskedKey)

	_, err = f.admin.UpdatePool(ctx, pool.ID, keypool.PoolInput{MaxClients: ptr(1)})
	assert.ErrorIs(t, err, keypool.ErrInvalidCapacity)
	_, err = f.admin.UpdatePool(ctx, pool.ID, keypool.PoolInput{MaxClients: ptr(-5)})
	assert.ErrorIs(t, err, keypool.ErrInvalidCapacity)

	updated, err := f.admin.UpdatePool(ctx, pool.ID, keypool.PoolInput{MaxClients: ptr(model.Unlimited)})
	require.NoError(t, err)
	assert.True(t, updated.Unlimited())
	assert.Equal(t, 2, updated.CurrentClients)
}

func TestAdmin_UpdatePoolCapacityConcurrent(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, model.ProviderDeepSeek, 6)
	ctx := context.Background()

	_, ok, err := f.engine.Allocate(ctx, model.ProviderDeepSeek, "s0", "")
	require.NoError(t, err)
	require.True(t, ok)
	views, err := f.admin.ListPools(ctx, 0)
	require.NoError(t, err)
	poolID := views[0].ID

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = f.engine.Allocate(ctx, model.ProviderDeepSeek, fmt.Sprintf("s%d", i), "")
		}(i)
	}
	var resizeErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, resizeErr = f.admin.UpdatePool(ctx, poolID, keypool.PoolInput{MaxClients: ptr(2)})
	}()
	wg.Wait()

	pool, err := f.repo.FindPool(ctx, poolID)
	require.NoError(t, err)
	assert.LessOrEqual(t, pool.CurrentClients, pool.MaxClients)
	if resizeErr == nil {
		assert.Equal(t, 2, pool.MaxClients)
	} else {
		assert.Equal(t, 6, pool.MaxClients, resizeErr)
	}
	f.assertCountersMatch(t)
}

func TestAdmin_DeleteRefusedWhileInUse(t *testing.T) {
	f := newFixture(t)
	provider := f.addProvider(t, model.ProviderDeepSeek, 1)
	ctx := context.Background()

	_, _, err := f.engine.Allocate(ctx, model.ProviderDeepSeek, "s1", "u1")
	require.NoError(t, err)
	views, err := f.admin.ListPools(ctx, provider.ID)
	require.NoError(t, err)
	poolID := views[0].ID

	assert.ErrorIs(t, f.admin.DeletePool(ctx, poolID), keypool.ErrPoolInUse)
	assert.ErrorIs(t, f.admin.DeleteProvider(ctx, provider.ID), keypool.ErrProviderInUse)

	n, err := f.admin.ForceRelease(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.admin.DeletePool(ctx, poolID))
	require.NoError(t, f.admin.DeleteProvider(ctx, provider.ID))

	active, err := f.engine.ActiveProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := f.admin.ListAllocations(ctx, repository.AllocationFilter{ClientID: "s1"})
	require.NoError(t, err)
	require.Len(t, history, 1, "allocations are kept after release")
	assert.False(t, history[0].Active)
}

func TestAdmin_SeedIsAdditive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeds := []keypool.SeedProvider{
		{Name: model.ProviderOpenRouter, BaseURL: "https://openrouter.ai/api/v1", Priority: 100, Keys: []string{"or-1", "or-2"}},
		{Name: model.ProviderDeepSeek, Priority: 95, MaxClients: model.Unlimited, Keys: []string{"ds-1"}},
		{Name: "unknown", Keys: []string{"x"}},
	}
	require.NoError(t, f.admin.Seed(ctx, seeds))

	seeds[0].Keys = append(seeds[0].Keys, "or-3")
	require.NoError(t, f.admin.Seed(ctx, seeds))

	providers, err := f.engine.ActiveProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, model.ProviderOpenRouter, providers[0].Name, "highest priority first")

	views, err := f.admin.ListPools(ctx, providers[0].ID)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "openrouter_pool_3", views[2].Name)
	assert.Equal(t, 1, views[0].MaxClients)

	ds, err := f.admin.ListPools(ctx, providers[1].ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Unlimited())
}
