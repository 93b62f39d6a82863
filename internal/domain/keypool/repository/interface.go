package repository

import (
	"context"
	"time"

	"senweaver-server-go/internal/domain/keypool/model"
)

// AllocationFilter narrows allocation queries. Zero values mean "any".
type AllocationFilter struct {
	ClientID   string
	UserID     string
	ProviderID uint
	ActiveOnly bool
	Limit      int
}

// PoolFilter narrows pool listings.
type PoolFilter struct {
	ProviderID uint
	ActiveOnly bool
}

// Repository 密钥池持久化接口
type Repository interface {
	// WithTx runs fn inside one store transaction. Returning an error rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error)
	FindProvider(ctx context.Context, name model.ProviderName) (*model.Provider, error)
	FindProviderByID(ctx context.Context, id uint) (*model.Provider, error)
	SaveProvider(ctx context.Context, provider *model.Provider) error

	ListPools(ctx context.Context, filter PoolFilter) ([]model.Pool, error)
	FindPool(ctx context.Context, id uint) (*model.Pool, error)
	SavePool(ctx context.Context, pool *model.Pool) error
	// ResizePool sets max_clients only while current_clients still fits under
	// it. It reports false when the pool is missing or already holds more.
	ResizePool(ctx context.Context, id uint, maxClients int) (bool, error)
	CountPools(ctx context.Context, providerID uint, activeOnly bool) (int64, error)

	ListAllocations(ctx context.Context, filter AllocationFilter) ([]model.Allocation, error)
	CountActiveAllocations(ctx context.Context, poolID uint) (int64, error)
}

// Tx is the transactional view used by the allocation algorithms. Lookups
// return (nil, nil) when nothing matches.
type Tx interface {
	FindProvider(name model.ProviderName) (*model.Provider, error)
	FindPool(id uint) (*model.Pool, error)

	// ActiveAllocation returns the session's live binding for a provider.
	ActiveAllocation(clientID string, providerID uint) (*model.Allocation, error)
	ActiveAllocations(filter AllocationFilter) ([]model.Allocation, error)

	// CandidatePools lists active pools of the provider that still have room,
	// least loaded first, then by name and id.
	CandidatePools(providerID uint) ([]model.Pool, error)
	// FindPoolBySecret looks up an active pool of the provider holding secret.
	FindPoolBySecret(providerID uint, secret string) (*model.Pool, error)

	// ClaimSlot increments current_clients only while capacity remains.
	// It reports false when another session won the last slot.
	ClaimSlot(poolID uint) (bool, error)
	// FreeSlot decrements current_clients, never below zero.
	FreeSlot(poolID uint) error

	CreateAllocation(allocation *model.Allocation) error
	CloseAllocation(id uint, at time.Time) error
}
