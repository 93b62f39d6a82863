package migrations

import "senweaver-server-go/internal/platform/storage"

// All 按版本顺序返回全部迁移
func All() []storage.Migration {
	return []storage.Migration{
		&Migration001Initial{},
		&Migration002KeyPool{},
		&Migration003Access{},
	}
}

// Apply 注册并执行全部迁移
func Apply(manager *storage.MigrationManager) ([]string, error) {
	manager.AddMigration(All()...)
	return manager.RunMigrations()
}
