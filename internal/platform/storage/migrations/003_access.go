package migrations

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migration003Access 用户、模型额度与调用流水
type Migration003Access struct{}

type user003 struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Status     string `gorm:"type:varchar(16);not null;default:'ACTIVE';index"`
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (user003) TableName() string { return "users" }

type modelAccess003 struct {
	ID              uint   `gorm:"primaryKey"`
	UserID          string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Enabled         bool   `gorm:"not null;default:true"`
	UsedCount       int64  `gorm:"not null;default:0"`
	UsedTotal       int64  `gorm:"not null;default:0"`
	UsageLimit      int64  `gorm:"not null;default:10000"`
	ResetPeriodDays int    `gorm:"not null;default:30"`
	LastResetTime   *time.Time
	DisabledReason  string `gorm:"type:varchar(255)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (modelAccess003) TableName() string { return "model_access" }

type usageLog003 struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"type:varchar(128);not null;index"`
	ModelName string `gorm:"type:varchar(128)"`
	Inc       int    `gorm:"not null"`
	ClientID  string `gorm:"type:varchar(128)"`
	Detail    datatypes.JSON
	CreatedAt time.Time `gorm:"index"`
}

func (usageLog003) TableName() string { return "model_usage_logs" }

func (m *Migration003Access) Version() string {
	return "003_access"
}

func (m *Migration003Access) Description() string {
	return "Create user, model access and usage log tables"
}

func (m *Migration003Access) Up(db *gorm.DB) error {
	return db.Migrator().CreateTable(&user003{}, &modelAccess003{}, &usageLog003{})
}

func (m *Migration003Access) Down(db *gorm.DB) error {
	return db.Migrator().DropTable("model_usage_logs", "model_access", "users")
}
