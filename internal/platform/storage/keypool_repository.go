package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/keypool/repository"
	"senweaver-server-go/internal/platform/errors"
)

// keyPoolRepository 密钥池仓库实现
type keyPoolRepository struct {
	db *gorm.DB
}

// NewKeyPoolRepository 创建密钥池仓库实例
func NewKeyPoolRepository(db *gorm.DB) repository.Repository {
	return &keyPoolRepository{db: db}
}

// WithTx 在单个事务中执行 fn
func (r *keyPoolRepository) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&keyPoolTx{db: tx})
	})
}

func (r *keyPoolRepository) ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error) {
	var records []ProviderRecord
	query := r.db.WithContext(ctx).Order("priority DESC, name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "keypool.list_providers", "failed to list providers", err)
	}
	providers := make([]model.Provider, len(records))
	for i := range records {
		providers[i] = providerFromRecord(&records[i])
	}
	return providers, nil
}

func (r *keyPoolRepository) FindProvider(ctx context.Context, name model.ProviderName) (*model.Provider, error) {
	return findProvider(r.db.WithContext(ctx), "name = ?", string(name))
}

func (r *keyPoolRepository) FindProviderByID(ctx context.Context, id uint) (*model.Provider, error) {
	return findProvider(r.db.WithContext(ctx), "id = ?", id)
}

// SaveProvider 按 ID 新建或更新供应商
func (r *keyPoolRepository) SaveProvider(ctx context.Context, provider *model.Provider) error {
	record := providerToRecord(provider)
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "keypool.save_provider", "failed to save provider", err)
	}
	*provider = providerFromRecord(record)
	return nil
}

func (r *keyPoolRepository) ListPools(ctx context.Context, filter repository.PoolFilter) ([]model.Pool, error) {
	db := r.db.WithContext(ctx)
	var records []PoolRecord
	query := db.Order("provider_id ASC, name ASC, id ASC")
	if filter.ProviderID != 0 {
		query = query.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "keypool.list_pools", "failed to list pools", err)
	}
	names, err := providerNames(db)
	if err != nil {
		return nil, err
	}
	pools := make([]model.Pool, len(records))
	for i := range records {
		pools[i] = poolFromRecord(&records[i], names[records[i].ProviderID])
	}
	return pools, nil
}

func (r *keyPoolRepository) FindPool(ctx context.Context, id uint) (*model.Pool, error) {
	return findPool(r.db.WithContext(ctx), "id = ?", id)
}

// SavePool 新建或更新密钥。current_clients 不在此处修改，已有密钥的容量通过 ResizePool 调整。
func (r *keyPoolRepository) SavePool(ctx context.Context, pool *model.Pool) error {
	db := r.db.WithContext(ctx)
	record := poolToRecord(pool)
	var err error
	if record.ID == 0 {
		err = db.Create(record).Error
	} else {
		err = db.Model(&PoolRecord{}).Where("id = ?", record.ID).Updates(map[string]any{
			"name":        record.Name,
			"api_key":     record.APIKey,
			"is_active":  record.IsActive,
			"updated_at": time.Now().UTC(),
		}).Error
	}
	if err != nil {
		return errors.Wrap(errors.KindStorage, "keypool.save_pool", "failed to save pool", err)
	}
	saved, err := findPool(db, "id = ?", record.ID)
	if err != nil {
		return err
	}
	if saved != nil {
		*pool = *saved
	}
	return nil
}

func (r *keyPoolRepository) ResizePool(ctx context.Context, id uint, maxClients int) (bool, error) {
	result := r.db.WithContext(ctx).Model(&PoolRecord{}).
		Where("id = ?", id).
		Where("(? = ? OR current_clients <= ?)", maxClients, model.Unlimited, maxClients).
		UpdateColumns(map[string]any{
			"max_clients": maxClients,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return false, errors.Wrap(errors.KindStorage, "keypool.resize_pool", "failed to resize pool", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *keyPoolRepository) CountPools(ctx context.Context, providerID uint, activeOnly bool) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&PoolRecord{}).Where("provider_id = ?", providerID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, errors.Wrap(errors.KindStorage, "keypool.count_pools", "failed to count pools", err)
	}
	return count, nil
}

func (r *keyPoolRepository) ListAllocations(ctx context.Context, filter repository.AllocationFilter) ([]model.Allocation, error) {
	return listAllocations(r.db.WithContext(ctx), filter)
}

func (r *keyPoolRepository) CountActiveAllocations(ctx context.Context, poolID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&AllocationRecord{}).
		Where("pool_id = ? AND is_active = ?", poolID, true).
		Count(&count).Error; err != nil {
		return 0, errors.Wrap(errors.KindStorage, "keypool.count_allocations", "failed to count allocations", err)
	}
	return count, nil
}

// keyPoolTx 事务内视图
type keyPoolTx struct {
	db *gorm.DB
}

func (t *keyPoolTx) FindProvider(name model.ProviderName) (*model.Provider, error) {
	return findProvider(t.db, "name = ?", string(name))
}

func (t *keyPoolTx) FindPool(id uint) (*model.Pool, error) {
	return findPool(t.db, "id = ?", id)
}

func (t *keyPoolTx) ActiveAllocation(clientID string, providerID uint) (*model.Allocation, error) {
	allocations, err := listAllocations(t.db, repository.AllocationFilter{
		ClientID:   clientID,
		ProviderID: providerID,
		ActiveOnly: true,
		Limit:      1,
	})
	if err != nil || len(allocations) == 0 {
		return nil, err
	}
	return &allocations[0], nil
}

func (t *keyPoolTx) ActiveAllocations(filter repository.AllocationFilter) ([]model.Allocation, error) {
	filter.ActiveOnly = true
	return listAllocations(t.db, filter)
}

func (t *keyPoolTx) CandidatePools(providerID uint) ([]model.Pool, error) {
	var records []PoolRecord
	if err := t.db.
		Where("provider_id = ? AND is_active = ?", providerID, true).
		Where("(max_clients = ? OR current_clients < max_clients)", model.Unlimited).
		Order("current_clients ASC, name ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "keypool.candidates", "failed to list candidate pools", err)
	}
	provider, err := findProvider(t.db, "id = ?", providerID)
	if err != nil {
		return nil, err
	}
	var name model.ProviderName
	if provider != nil {
		name = provider.Name
	}
	pools := make([]model.Pool, len(records))
	for i := range records {
		pools[i] = poolFromRecord(&records[i], name)
	}
	return pools, nil
}

func (t *keyPoolTx) FindPoolBySecret(providerID uint, secret string) (*model.Pool, error) {
	return findPool(t.db, "provider_id = ? AND api_key = ? AND is_active = ?", providerID, secret, true)
}

// ClaimSlot 条件自增，容量判断与计数在同一条语句内完成
func (t *keyPoolTx) ClaimSlot(poolID uint) (bool, error) {
	result := t.db.Model(&PoolRecord{}).
		Where("id = ? AND is_active = ?", poolID, true).
		Where("(max_clients = ? OR current_clients < max_clients)", model.Unlimited).
		UpdateColumns(map[string]any{
			"current_clients": gorm.Expr("current_clients + 1"),
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return false, errors.Wrap(errors.KindStorage, "keypool.claim_slot", "failed to claim slot", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// FreeSlot 计数减一，不会低于 0
func (t *keyPoolTx) FreeSlot(poolID uint) error {
	if err := t.db.Model(&PoolRecord{}).
		Where("id = ? AND current_clients > 0", poolID).
		UpdateColumns(map[string]any{
			"current_clients": gorm.Expr("current_clients - 1"),
			"updated_at":      time.Now().UTC(),
		}).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "keypool.free_slot", "failed to free slot", err)
	}
	return nil
}

func (t *keyPoolTx) CreateAllocation(allocation *model.Allocation) error {
	record := &AllocationRecord{
		PoolID:      allocation.PoolID,
		ProviderID:  allocation.ProviderID,
		ClientID:    allocation.ClientID,
		UserID:      allocation.UserID,
		AllocatedAt: allocation.AllocatedAt,
		IsActive:    true,
	}
	if record.AllocatedAt.IsZero() {
		record.AllocatedAt = time.Now().UTC()
	}
	if err := t.db.Create(record).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "keypool.create_allocation", "failed to create allocation", err)
	}
	allocation.ID = record.ID
	allocation.AllocatedAt = record.AllocatedAt
	allocation.Active = true
	return nil
}

func (t *keyPoolTx) CloseAllocation(id uint, at time.Time) error {
	if err := t.db.Model(&AllocationRecord{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "released_at": at.UTC()}).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "keypool.close_allocation", "failed to close allocation", err)
	}
	return nil
}

func findProvider(db *gorm.DB, query string, args ...any) (*model.Provider, error) {
	var record ProviderRecord
	if err := db.Where(query, args...).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, "keypool.find_provider", "failed to find provider", err)
	}
	provider := providerFromRecord(&record)
	return &provider, nil
}

func findPool(db *gorm.DB, query string, args ...any) (*model.Pool, error) {
	var record PoolRecord
	if err := db.Where(query, args...).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, "keypool.find_pool", "failed to find pool", err)
	}
	provider, err := findProvider(db.Session(&gorm.Session{NewDB: true}), "id = ?", record.ProviderID)
	if err != nil {
		return nil, err
	}
	var name model.ProviderName
	if provider != nil {
		name = provider.Name
	}
	pool := poolFromRecord(&record, name)
	return &pool, nil
}

func listAllocations(db *gorm.DB, filter repository.AllocationFilter) ([]model.Allocation, error) {
	var records []AllocationRecord
	query := db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}})
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.ProviderID != 0 {
		query = query.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "keypool.list_allocations", "failed to list allocations", err)
	}
	names, err := providerNames(db.Session(&gorm.Session{NewDB: true}))
	if err != nil {
		return nil, err
	}
	allocations := make([]model.Allocation, len(records))
	for i, record := range records {
		allocations[i] = model.Allocation{
			ID:          record.ID,
			PoolID:      record.PoolID,
			ProviderID:  record.ProviderID,
			Provider:    names[record.ProviderID],
			ClientID:    record.ClientID,
			UserID:      record.UserID,
			AllocatedAt: record.AllocatedAt,
			ReleasedAt:  record.ReleasedAt,
			Active:      record.IsActive,
		}
	}
	return allocations, nil
}

func providerNames(db *gorm.DB) (map[uint]model.ProviderName, error) {
	var records []ProviderRecord
	if err := db.Select("id", "name").Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "keypool.provider_names", "failed to load provider names", err)
	}
	names := make(map[uint]model.ProviderName, len(records))
	for _, record := range records {
		names[record.ID] = model.ProviderName(record.Name)
	}
	return names, nil
}

func providerFromRecord(record *ProviderRecord) model.Provider {
	return model.Provider{
		ID:          record.ID,
		Name:        model.ProviderName(record.Name),
		DisplayName: record.DisplayName,
		BaseURL:     record.BaseURL,
		Active:      record.IsActive,
		Priority:    record.Priority,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func providerToRecord(provider *model.Provider) *ProviderRecord {
	return &ProviderRecord{
		ID:          provider.ID,
		Name:        string(provider.Name),
		DisplayName: provider.DisplayName,
		BaseURL:     provider.BaseURL,
		IsActive:    provider.Active,
		Priority:    provider.Priority,
		CreatedAt:   provider.CreatedAt,
		UpdatedAt:   provider.UpdatedAt,
	}
}

func poolFromRecord(record *PoolRecord, provider model.ProviderName) model.Pool {
	return model.Pool{
		ID:             record.ID,
		ProviderID:     record.ProviderID,
		Provider:       provider,
		Name:           record.Name,
		Secret:         record.APIKey,
		Active:         record.IsActive,
		MaxClients:     record.MaxClients,
		CurrentClients: record.CurrentClients,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func poolToRecord(pool *model.Pool) *PoolRecord {
	return &PoolRecord{
		ID:             pool.ID,
		ProviderID:     pool.ProviderID,
		Name:           pool.Name,
		APIKey:         pool.Secret,
		IsActive:       pool.Active,
		MaxClients:     pool.MaxClients,
		CurrentClients: pool.CurrentClients,
		CreatedAt:      pool.CreatedAt,
		UpdatedAt:      pool.UpdatedAt,
	}
}
