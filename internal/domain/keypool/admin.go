package keypool

import (
	"context"
	"fmt"
	"strings"

	"senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/keypool/repository"
	"senweaver-server-go/internal/platform/errors"
	"senweaver-server-go/internal/platform/logging"
)

// ProviderInput creates or updates a provider. Nil pointer fields are left unchanged on update.
type ProviderInput struct {
	Name        model.ProviderName `json:"name"`
	DisplayName *string            `json:"display_name,omitempty"`
	BaseURL     *string            `json:"base_url,omitempty"`
	Priority    *int               `json:"priority,omitempty"`
	Active      *bool              `json:"is_active,omitempty"`
}

// PoolInput creates or updates a single pool.
type PoolInput struct {
	ProviderID uint    `json:"provider_id"`
	Name       *string `json:"name,omitempty"`
	Secret     *string `json:"api_key,omitempty"`
	MaxClients *int    `json:"max_clients,omitempty"`
	Active     *bool   `json:"is_active,omitempty"`
}

// BatchInput imports many keys for one provider under generated names.
type BatchInput struct {
	ProviderID uint     `json:"provider_id"`
	Secrets    []string `json:"api_keys"`
	MaxClients int      `json:"max_clients"`
	NamePrefix string   `json:"name_prefix"`
}

// PoolView is a pool as shown to administrators.
type PoolView struct {
	model.Pool
	MaskedKey         string `json:"api_key_masked"`
	ActiveAllocations int64  `json:"active_allocations"`
}

// SeedProvider is one provider with its keys imported on first start.
type SeedProvider struct {
	Name        model.ProviderName
	DisplayName string
	BaseURL     string
	Priority    int
	MaxClients  int
	Keys        []string
}

// Admin manages providers and pools on behalf of administrators.
type Admin struct {
	repo   repository.Repository
	engine *Engine
	logger *logging.Logger
}

// NewAdmin creates the administration service.
func NewAdmin(repo repository.Repository, engine *Engine, logger *logging.Logger) *Admin {
	return &Admin{repo: repo, engine: engine, logger: logger}
}

func (a *Admin) ListProviders(ctx context.Context) ([]model.Provider, error) {
	return a.repo.ListProviders(ctx, false)
}

// CreateProvider registers a provider from the closed enumeration.
func (a *Admin) CreateProvider(ctx context.Context, in ProviderInput) (*model.Provider, error) {
	if _, ok := model.ParseProviderName(string(in.Name)); !ok {
		return nil, ErrUnknownProvider
	}
	existing, err := a.repo.FindProvider(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrProviderExists
	}
	provider := &model.Provider{Name: in.Name, DisplayName: string(in.Name), Active: true}
	applyProviderInput(provider, in)
	if err := a.repo.SaveProvider(ctx, provider); err != nil {
		return nil, err
	}
	a.logger.InfoTag(logTag, "新增供应商 %s", provider.Name)
	return provider, nil
}

func (a *Admin) UpdateProvider(ctx context.Context, id uint, in ProviderInput) (*model.Provider, error) {
	provider, err := a.repo.FindProviderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrUnknownProvider
	}
	applyProviderInput(provider, in)
	if err := a.repo.SaveProvider(ctx, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// DeleteProvider deactivates a provider that has no active pools left.
func (a *Admin) DeleteProvider(ctx context.Context, id uint) error {
	provider, err := a.repo.FindProviderByID(ctx, id)
	if err != nil {
		return err
	}
	if provider == nil {
		return ErrUnknownProvider
	}
	pools, err := a.repo.CountPools(ctx, id, true)
	if err != nil {
		return err
	}
	if pools > 0 {
		return ErrProviderInUse
	}
	provider.Active = false
	if err := a.repo.SaveProvider(ctx, provider); err != nil {
		return err
	}
	a.logger.InfoTag(logTag, "停用供应商 %s", provider.Name)
	return nil
}

// ListPools returns pools of one provider, or all when providerID is 0.
func (a *Admin) ListPools(ctx context.Context, providerID uint) ([]PoolView, error) {
	pools, err := a.repo.ListPools(ctx, repository.PoolFilter{ProviderID: providerID})
	if err != nil {
		return nil, err
	}
	views := make([]PoolView, len(pools))
	for i, pool := range pools {
		active, err := a.repo.CountActiveAllocations(ctx, pool.ID)
		if err != nil {
			return nil, err
		}
		views[i] = PoolView{Pool: pool, MaskedKey: pool.MaskedSecret(), ActiveAllocations: active}
	}
	return views, nil
}

func (a *Admin) CreatePool(ctx context.Context, in PoolInput) (*model.Pool, error) {
	provider, err := a.repo.FindProviderByID(ctx, in.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrUnknownProvider
	}
	if in.Secret == nil || strings.TrimSpace(*in.Secret) == "" {
		return nil, errors.New(errors.KindDomain, "keypool.create_pool", "api_key is required")
	}
	secret := strings.TrimSpace(*in.Secret)
	if dup, err := a.secretTaken(ctx, provider.ID, secret); err != nil {
		return nil, err
	} else if dup {
		return nil, ErrDuplicateSecret
	}

	count, err := a.repo.CountPools(ctx, provider.ID, false)
	if err != nil {
		return nil, err
	}
	pool := &model.Pool{
		ProviderID: provider.ID,
		Name:       fmt.Sprintf("%s_pool_%d", provider.Name, count+1),
		Secret:     secret,
		Active:     true,
		MaxClients: 1,
	}
	if in.Name != nil && *in.Name != "" {
		pool.Name = *in.Name
	}
	if in.MaxClients != nil {
		pool.MaxClients = *in.MaxClients
	}
	if in.Active != nil {
		pool.Active = *in.Active
	}
	if pool.MaxClients < model.Unlimited {
		return nil, ErrInvalidCapacity
	}
	if err := a.repo.SavePool(ctx, pool); err != nil {
		return nil, err
	}
	a.logger.InfoTag(logTag, "新增密钥 %s (%s, max_clients=%d)", pool.Name, provider.Name, pool.MaxClients)
	return pool, nil
}

// BatchCreatePools imports keys named {prefix}_{n}; blank and already known
// keys are skipped and counted.
func (a *Admin) BatchCreatePools(ctx context.Context, in BatchInput) ([]model.Pool, int, error) {
	provider, err := a.repo.FindProviderByID(ctx, in.ProviderID)
	if err != nil {
		return nil, 0, err
	}
	if provider == nil {
		return nil, 0, ErrUnknownProvider
	}
	if in.MaxClients < model.Unlimited {
		return nil, 0, ErrInvalidCapacity
	}
	prefix := in.NamePrefix
	if prefix == "" {
		prefix = "Pool"
	}
	count, err := a.repo.CountPools(ctx, provider.ID, false)
	if err != nil {
		return nil, 0, err
	}

	var created []model.Pool
	skipped := 0
	seen := map[string]struct{}{}
	for _, raw := range in.Secrets {
		secret := strings.TrimSpace(raw)
		if _, dup := seen[secret]; secret == "" || dup {
			skipped++
			continue
		}
		seen[secret] = struct{}{}
		taken, err := a.secretTaken(ctx, provider.ID, secret)
		if err != nil {
			return created, skipped, err
		}
		if taken {
			skipped++
			continue
		}
		count++
		pool := &model.Pool{
			ProviderID: provider.ID,
			Name:       fmt.Sprintf("%s_%d", prefix, count),
			Secret:     secret,
			Active:     true,
			MaxClients: in.MaxClients,
		}
		if err := a.repo.SavePool(ctx, pool); err != nil {
			return created, skipped, err
		}
		created = append(created, *pool)
	}
	a.logger.InfoTag(logTag, "批量导入 %s 密钥: 新增 %d, 跳过 %d", provider.Name, len(created), skipped)
	return created, skipped, nil
}

// UpdatePool changes a pool. max_clients may not drop below the current
// usage unless the pool becomes unlimited; the check and the write happen in
// one conditional update so a concurrent Allocate cannot overshoot.
func (a *Admin) UpdatePool(ctx context.Context, id uint, in PoolInput) (*model.Pool, error) {
	pool, err := a.repo.FindPool(ctx, id)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	if in.Name != nil && *in.Name != "" {
		pool.Name = *in.Name
	}
	if in.Secret != nil && strings.TrimSpace(*in.Secret) != "" && strings.TrimSpace(*in.Secret) != pool.Secret {
		secret := strings.TrimSpace(*in.Secret)
		if taken, err := a.secretTaken(ctx, pool.ProviderID, secret); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrDuplicateSecret
		}
		pool.Secret = secret
	}
	if in.MaxClients != nil {
		maxClients := *in.MaxClients
		if maxClients < model.Unlimited {
			return nil, ErrInvalidCapacity
		}
		if maxClients != pool.MaxClients {
			ok, err := a.repo.ResizePool(ctx, pool.ID, maxClients)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrInvalidCapacity
			}
			pool.MaxClients = maxClients
		}
	}
	if in.Active != nil {
		pool.Active = *in.Active
	}
	if err := a.repo.SavePool(ctx, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// DeletePool deactivates a pool with no active allocations.
func (a *Admin) DeletePool(ctx context.Context, id uint) error {
	pool, err := a.repo.FindPool(ctx, id)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolNotFound
	}
	active, err := a.repo.CountActiveAllocations(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrPoolInUse
	}
	pool.Active = false
	if err := a.repo.SavePool(ctx, pool); err != nil {
		return err
	}
	a.logger.InfoTag(logTag, "停用密钥 %s", pool.Name)
	return nil
}

// FindPool returns a pool including its secret, for probing.
func (a *Admin) FindPool(ctx context.Context, id uint) (*model.Pool, *model.Provider, error) {
	pool, err := a.repo.FindPool(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if pool == nil {
		return nil, nil, ErrPoolNotFound
	}
	provider, err := a.repo.FindProviderByID(ctx, pool.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	if provider == nil {
		return nil, nil, ErrUnknownProvider
	}
	return pool, provider, nil
}

func (a *Admin) ListAllocations(ctx context.Context, filter repository.AllocationFilter) ([]model.Allocation, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return a.repo.ListAllocations(ctx, filter)
}

// ForceRelease strips every credential held by a session.
func (a *Admin) ForceRelease(ctx context.Context, clientID string) (int, error) {
	n, err := a.engine.Release(ctx, clientID, "")
	if err != nil {
		return 0, err
	}
	a.logger.InfoTag(logTag, "管理员释放会话 %s 的 %d 个分配", clientID, n)
	return n, nil
}

// Seed creates missing providers and imports keys not yet known, naming new
// pools {provider}_pool_{n}. Existing rows are never modified.
func (a *Admin) Seed(ctx context.Context, seeds []SeedProvider) error {
	for _, seed := range seeds {
		if _, ok := model.ParseProviderName(string(seed.Name)); !ok {
			a.logger.WarnTag(logTag, "跳过未知供应商配置 %s", seed.Name)
			continue
		}
		provider, err := a.repo.FindProvider(ctx, seed.Name)
		if err != nil {
			return err
		}
		if provider == nil {
			provider = &model.Provider{
				Name:        seed.Name,
				DisplayName: seed.DisplayName,
				BaseURL:     seed.BaseURL,
				Priority:    seed.Priority,
				Active:      true,
			}
			if provider.DisplayName == "" {
				provider.DisplayName = string(seed.Name)
			}
			if err := a.repo.SaveProvider(ctx, provider); err != nil {
				return err
			}
			a.logger.InfoTag(logTag, "初始化供应商: %s", seed.Name)
		}

		maxClients := seed.MaxClients
		if maxClients == 0 {
			maxClients = 1
		}
		if maxClients < model.Unlimited {
			return ErrInvalidCapacity
		}
		count, err := a.repo.CountPools(ctx, provider.ID, false)
		if err != nil {
			return err
		}
		added := 0
		for _, key := range seed.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			taken, err := a.secretTaken(ctx, provider.ID, key)
			if err != nil {
				return err
			}
			if taken {
				continue
			}
			count++
			if err := a.repo.SavePool(ctx, &model.Pool{
				ProviderID: provider.ID,
				Name:       fmt.Sprintf("%s_pool_%d", seed.Name, count),
				Secret:     key,
				Active:     true,
				MaxClients: maxClients,
			}); err != nil {
				return err
			}
			added++
		}
		if added > 0 {
			a.logger.InfoTag(logTag, "为供应商 %s 添加 %d 个新密钥", seed.Name, added)
		}
	}
	return nil
}

func (a *Admin) secretTaken(ctx context.Context, providerID uint, secret string) (bool, error) {
	pools, err := a.repo.ListPools(ctx, repository.PoolFilter{ProviderID: providerID})
	if err != nil {
		return false, err
	}
	for _, pool := range pools {
		if pool.Secret == secret {
			return true, nil
		}
	}
	return false, nil
}

func applyProviderInput(provider *model.Provider, in ProviderInput) {
	if in.DisplayName != nil {
		provider.DisplayName = *in.DisplayName
	}
	if in.BaseURL != nil {
		provider.BaseURL = *in.BaseURL
	}
	if in.Priority != nil {
		provider.Priority = *in.Priority
	}
	if in.Active != nil {
		provider.Active = *in.Active
	}
}
