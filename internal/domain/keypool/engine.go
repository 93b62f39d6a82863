// Package keypool hands out upstream model credentials to live sessions.
//
// The engine keeps no state of its own: every pool counter and allocation
// lives in the store, and each operation runs inside one store transaction.
// The capacity check and counter increment happen in a single conditional
// UPDATE (ClaimSlot), so two sessions racing for the last slot of a pool can
// never both win it.
package keypool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/keypool/repository"
	"senweaver-server-go/internal/platform/errors"
	"senweaver-server-go/internal/platform/logging"
	"senweaver-server-go/internal/platform/observability"
)

const logTag = "密钥池"

// Engine implements allocate / release / validate / reconcile over a Repository.
type Engine struct {
	repo    repository.Repository
	logger  *logging.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an allocation engine.
func NewEngine(repo repository.Repository, opts ...Option) *Engine {
	e := &Engine{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActiveProviders lists active providers, highest priority first.
func (e *Engine) ActiveProviders(ctx context.Context) ([]model.Provider, error) {
	providers, err := e.repo.ListProviders(ctx, true)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority > providers[j].Priority
		}
		return providers[i].Name < providers[j].Name
	})
	return providers, nil
}

// Allocate returns the session's credential for provider, binding a pool
// when the session has none. ok is false with a nil error when every pool
// of the provider is full.
func (e *Engine) Allocate(ctx context.Context, provider model.ProviderName, sessionID, identity string) (model.Credential, bool, error) {
	ctx, end := observability.StartSpan(ctx, "keypool", "allocate")
	var (
		cred    model.Credential
		ok      bool
		outcome = "exhausted"
	)
	err := e.repo.WithTx(ctx, func(tx repository.Tx) error {
		p, err := activeProvider(tx, provider)
		if err != nil {
			return err
		}

		existing, err := tx.ActiveAllocation(sessionID, p.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			pool, err := tx.FindPool(existing.PoolID)
			if err != nil {
				return err
			}
			if pool != nil {
				cred, ok, outcome = credentialFor(p, pool), true, "reused"
				return nil
			}
		}

		candidates, err := tx.CandidatePools(p.ID)
		if err != nil {
			return err
		}
		for i := range candidates {
			pool := &candidates[i]
			mustBeConsistent(pool)
			won, err := tx.ClaimSlot(pool.ID)
			if err != nil {
				return err
			}
			if !won {
				// 被并发会话抢走最后一个名额，换下一个
				continue
			}
			if err := tx.CreateAllocation(&model.Allocation{
				PoolID:      pool.ID,
				ProviderID:  p.ID,
				ClientID:    sessionID,
				UserID:      identity,
				AllocatedAt: e.now().UTC(),
			}); err != nil {
				return err
			}
			cred, ok, outcome = credentialFor(p, pool), true, "allocated"
			e.logger.DebugTag(logTag, "会话 %s 分配 %s 密钥 %s (%d/%d)",
				sessionID, provider, pool.Name, pool.CurrentClients+1, pool.MaxClients)
			return nil
		}
		return nil
	})
	end(err)
	if err != nil {
		e.metrics.RecordAllocation(string(provider), "error")
		return model.Credential{}, false, wrapStore("keypool.allocate", err)
	}
	e.metrics.RecordAllocation(string(provider), outcome)
	if !ok {
		e.logger.WarnTag(logTag, "供应商 %s 的密钥池已满，会话 %s 未分配到密钥", provider, sessionID)
	}
	return cred, ok, nil
}

// AllocateAll allocates every active provider and returns what could be
// obtained. A provider whose pools are full, or whose allocation failed, is
// left out of the map.
func (e *Engine) AllocateAll(ctx context.Context, sessionID, identity string) (model.ProviderCredentials, error) {
	providers, err := e.ActiveProviders(ctx)
	if err != nil {
		return nil, err
	}
	creds := make(model.ProviderCredentials, len(providers))
	for _, p := range providers {
		cred, ok, err := e.Allocate(ctx, p.Name, sessionID, identity)
		if err != nil {
			e.logger.ErrorTag(logTag, "为会话 %s 分配 %s 失败: %v", sessionID, p.Name, err)
			continue
		}
		if ok {
			creds[p.Name] = cred
		}
	}
	return creds, nil
}

// Release closes the session's active allocations, all of them when provider
// is empty, and returns how many were closed.
func (e *Engine) Release(ctx context.Context, sessionID string, provider model.ProviderName) (int, error) {
	filter := repository.AllocationFilter{ClientID: sessionID}
	return e.release(ctx, "keypool.release", filter, provider)
}

// ReleaseByIdentity closes every active allocation held by identity,
// whichever session holds it.
func (e *Engine) ReleaseByIdentity(ctx context.Context, identity string) (int, error) {
	if identity == "" {
		return 0, nil
	}
	filter := repository.AllocationFilter{UserID: identity}
	return e.release(ctx, "keypool.release_by_identity", filter, "")
}

func (e *Engine) release(ctx context.Context, op string, filter repository.AllocationFilter, provider model.ProviderName) (int, error) {
	ctx, end := observability.StartSpan(ctx, "keypool", "release")
	released := map[model.ProviderName]int{}
	total := 0
	err := e.repo.WithTx(ctx, func(tx repository.Tx) error {
		if provider != "" {
			p, err := tx.FindProvider(provider)
			if err != nil {
				return err
			}
			if p == nil {
				return nil
			}
			filter.ProviderID = p.ID
		}

		allocations, err := tx.ActiveAllocations(filter)
		if err != nil {
			return err
		}
		at := e.now().UTC()
		for _, allocation := range allocations {
			if err := tx.CloseAllocation(allocation.ID, at); err != nil {
				return err
			}
			if err := tx.FreeSlot(allocation.PoolID); err != nil {
				return err
			}
			released[allocation.Provider]++
			total++
		}
		return nil
	})
	end(err)
	if err != nil {
		return 0, wrapStore(op, err)
	}
	for name, n := range released {
		e.metrics.RecordRelease(string(name), n)
	}
	if total > 0 {
		e.logger.DebugTag(logTag, "释放 %d 个分配 (client=%s user=%s)", total, filter.ClientID, filter.UserID)
	}
	return total, nil
}

// BoundProviders lists the providers the session currently holds a
// credential for.
func (e *Engine) BoundProviders(ctx context.Context, sessionID string) ([]model.ProviderName, error) {
	allocations, err := e.repo.ListAllocations(ctx, repository.AllocationFilter{ClientID: sessionID, ActiveOnly: true})
	if err != nil {
		return nil, wrapStore("keypool.bound_providers", err)
	}
	names := make([]model.ProviderName, 0, len(allocations))
	for _, allocation := range allocations {
		names = append(names, allocation.Provider)
	}
	return names, nil
}

// Validate reports whether presented is the credential of the pool the
// session is currently bound to for provider.
func (e *Engine) Validate(ctx context.Context, provider model.ProviderName, sessionID, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}
	valid := false
	err := e.repo.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.FindProvider(provider)
		if err != nil || p == nil || !p.Active {
			return err
		}
		allocation, err := tx.ActiveAllocation(sessionID, p.ID)
		if err != nil || allocation == nil {
			return err
		}
		pool, err := tx.FindPool(allocation.PoolID)
		if err != nil || pool == nil {
			return err
		}
		valid = pool.Secret == presented
		return nil
	})
	if err != nil {
		return false, wrapStore("keypool.validate", err)
	}
	return valid, nil
}

// Reconcile adopts a credential the client still holds instead of handing
// out a new one. It succeeds when presented belongs to an active pool of the
// provider that is either the session's own pool or has a free slot; the
// session's previous binding for the provider is then released. On failure
// the existing binding is left untouched.
func (e *Engine) Reconcile(ctx context.Context, provider model.ProviderName, sessionID, presented, identity string) (bool, error) {
	if presented == "" || presented == model.DisabledKey {
		return false, nil
	}
	ctx, end := observability.StartSpan(ctx, "keypool", "reconcile")
	outcome := "rejected"
	err := e.repo.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.FindProvider(provider)
		if err != nil || p == nil || !p.Active {
			return err
		}
		pool, err := tx.FindPoolBySecret(p.ID, presented)
		if err != nil || pool == nil {
			return err
		}
		mustBeConsistent(pool)

		current, err := tx.ActiveAllocation(sessionID, p.ID)
		if err != nil {
			return err
		}
		if current != nil && current.PoolID == pool.ID {
			outcome = "bound"
			return nil
		}

		won, err := tx.ClaimSlot(pool.ID)
		if err != nil || !won {
			return err
		}

		others, err := tx.ActiveAllocations(repository.AllocationFilter{ClientID: sessionID, ProviderID: p.ID})
		if err != nil {
			return err
		}
		at := e.now().UTC()
		for _, other := range others {
			if err := tx.CloseAllocation(other.ID, at); err != nil {
				return err
			}
			if err := tx.FreeSlot(other.PoolID); err != nil {
				return err
			}
		}
		if err := tx.CreateAllocation(&model.Allocation{
			PoolID:      pool.ID,
			ProviderID:  p.ID,
			ClientID:    sessionID,
			UserID:      identity,
			AllocatedAt: at,
		}); err != nil {
			return err
		}
		outcome = "adopted"
		return nil
	})
	end(err)
	if err != nil {
		e.metrics.RecordReconcile(string(provider), "error")
		return false, wrapStore("keypool.reconcile", err)
	}
	e.metrics.RecordReconcile(string(provider), outcome)
	if outcome == "adopted" {
		e.logger.InfoTag(logTag, "会话 %s 沿用客户端已有的 %s 密钥", sessionID, provider)
	}
	return outcome != "rejected", nil
}

// Status aggregates pool usage per active provider. Providers without active
// pools are omitted.
func (e *Engine) Status(ctx context.Context) (model.Status, error) {
	providers, err := e.ActiveProviders(ctx)
	if err != nil {
		return model.Status{}, err
	}
	pools, err := e.repo.ListPools(ctx, repository.PoolFilter{ActiveOnly: true})
	if err != nil {
		return model.Status{}, err
	}

	byProvider := make(map[uint][]model.Pool, len(providers))
	for _, pool := range pools {
		byProvider[pool.ProviderID] = append(byProvider[pool.ProviderID], pool)
	}

	status := model.Status{Providers: []model.ProviderStatus{}}
	anyUnlimited := false
	for _, p := range providers {
		group := byProvider[p.ID]
		if len(group) == 0 {
			continue
		}
		stat := model.ProviderStatus{Name: p.Name, DisplayName: p.DisplayName, TotalKeys: len(group)}
		for i := range group {
			mustBeConsistent(&group[i])
			stat.UsedClients += group[i].CurrentClients
			if group[i].Unlimited() {
				stat.HasInfinite = true
			} else {
				stat.MaxClients += group[i].MaxClients
			}
		}
		if stat.HasInfinite {
			anyUnlimited = true
			stat.Remaining = model.Unlimited
			stat.CapacityDisplay = "∞"
		} else {
			status.Summary.TotalCapacity += stat.MaxClients
			stat.UsageRate = float64(stat.UsedClients) / float64(max(stat.MaxClients, 1)) * 100
			stat.Remaining = stat.MaxClients - stat.UsedClients
			stat.CapacityDisplay = fmt.Sprintf("%d", stat.MaxClients)
		}
		status.Providers = append(status.Providers, stat)
		status.Summary.TotalProviders++
		status.Summary.TotalPools += stat.TotalKeys
		status.Summary.TotalClients += stat.UsedClients
	}
	if anyUnlimited {
		status.Summary.TotalCapacity = model.Unlimited
	}
	return status, nil
}

func activeProvider(tx repository.Tx, name model.ProviderName) (*model.Provider, error) {
	if _, known := model.ParseProviderName(string(name)); !known {
		return nil, ErrUnknownProvider
	}
	p, err := tx.FindProvider(name)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active {
		return nil, ErrProviderInactive
	}
	return p, nil
}

func credentialFor(provider *model.Provider, pool *model.Pool) model.Credential {
	return model.Credential{APIKey: pool.Secret, BaseURL: provider.BaseURL}
}

// mustBeConsistent panics on rows the schema checks should have rejected.
func mustBeConsistent(pool *model.Pool) {
	if pool.MaxClients < model.Unlimited || pool.CurrentClients < 0 {
		panic(fmt.Sprintf("keypool: pool %d has max_clients=%d current_clients=%d",
			pool.ID, pool.MaxClients, pool.CurrentClients))
	}
}

// wrapStore leaves domain errors intact and tags everything else as storage.
func wrapStore(op string, err error) error {
	if errors.IsKind(err, errors.KindDomain) {
		return err
	}
	return errors.Wrap(errors.KindStorage, op, "key pool store failure", err)
}
