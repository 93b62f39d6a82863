// Package storagetest opens throwaway migrated databases for tests.
package storagetest

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"senweaver-server-go/internal/platform/storage"
	"senweaver-server-go/internal/platform/storage/migrations"
)

// NewDB returns a migrated sqlite database living in t.TempDir().
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := storage.Open(storage.Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })

	if _, err := migrations.Apply(storage.NewMigrationManager(db)); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
