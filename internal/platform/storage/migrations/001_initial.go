package migrations

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migration001Initial 基础表：领域事件、管理员会话
type Migration001Initial struct{}

type domainEvent001 struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"type:varchar(255);index;not null"`
	SessionID string         `gorm:"type:varchar(255);index"`
	UserID    string         `gorm:"type:varchar(255);index"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"index;not null"`
}

func (domainEvent001) TableName() string { return "domain_events" }

type adminSession001 struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Username  string `gorm:"type:varchar(128);not null"`
	IP        string `gorm:"type:varchar(64)"`
	CreatedAt time.Time
	ExpiresAt *time.Time `gorm:"index"`
	Metadata  datatypes.JSON
}

func (adminSession001) TableName() string { return "admin_sessions" }

func (m *Migration001Initial) Version() string {
	return "001_initial"
}

func (m *Migration001Initial) Description() string {
	return "Create domain event and admin session tables"
}

func (m *Migration001Initial) Up(db *gorm.DB) error {
	// 迁移内使用冻结的结构体，避免模型后续变化影响历史版本
	return db.Migrator().CreateTable(&domainEvent001{}, &adminSession001{})
}

func (m *Migration001Initial) Down(db *gorm.DB) error {
	return db.Migrator().DropTable("admin_sessions", "domain_events")
}
