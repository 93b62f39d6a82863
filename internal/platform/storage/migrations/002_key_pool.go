package migrations

import (
	"time"

	"gorm.io/gorm"
)

// Migration002KeyPool 供应商、密钥池与分配记录
type Migration002KeyPool struct{}

type provider002 struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName string `gorm:"type:varchar(128)"`
	BaseURL     string `gorm:"type:varchar(512)"`
	IsActive    bool   `gorm:"not null;default:true;index"`
	Priority    int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (provider002) TableName() string { return "model_providers" }

type pool002 struct {
	ID             uint   `gorm:"primaryKey"`
	ProviderID     uint   `gorm:"not null;index"`
	Name           string `gorm:"type:varchar(128);not null"`
	APIKey         string `gorm:"type:text;not null"`
	IsActive       bool   `gorm:"not null;default:true;index"`
	MaxClients     int    `gorm:"not null;default:1;check:chk_key_pools_max_clients,max_clients >= -1"`
	CurrentClients int    `gorm:"not null;default:0;check:chk_key_pools_current_clients,current_clients >= 0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (pool002) TableName() string { return "key_pools" }

type allocation002 struct {
	ID          uint      `gorm:"primaryKey"`
	PoolID      uint      `gorm:"not null;index"`
	ProviderID  uint      `gorm:"not null;index"`
	ClientID    string    `gorm:"type:varchar(128);not null;index"`
	UserID      string    `gorm:"type:varchar(128);index"`
	AllocatedAt time.Time `gorm:"not null"`
	ReleasedAt  *time.Time
	IsActive    bool `gorm:"not null;default:true;index"`
}

func (allocation002) TableName() string { return "key_allocations" }

func (m *Migration002KeyPool) Version() string {
	return "002_key_pool"
}

func (m *Migration002KeyPool) Description() string {
	return "Create provider, key pool and allocation tables"
}

func (m *Migration002KeyPool) Up(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&provider002{}, &pool002{}, &allocation002{}); err != nil {
		return err
	}
	// 每个会话每个供应商最多一条有效分配
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_key_allocations_active
		ON key_allocations(client_id, provider_id) WHERE is_active = true`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_key_pools_provider_key
		ON key_pools(provider_id, api_key)`).Error
}

func (m *Migration002KeyPool) Down(db *gorm.DB) error {
	return db.Migrator().DropTable("key_allocations", "key_pools", "model_providers")
}
