// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"testing"

	"senweaver-server-go/internal/platform/config"
	"senweaver-server-go/internal/platform/logging"
)

// TestSecret 测试用连接签名密钥
const TestSecret = "S"

// SetupTestConfig returns defaults pointed at the test's temp dir with the
// database and log files isolated per test.
func SetupTestConfig(t testing.TB) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = dir
	cfg.Log.File = "test.log"
	cfg.Log.Console = false
	cfg.Database.DSN = dir + "/test.db"
	cfg.Auth.Secret = TestSecret
	cfg.Auth.Store.Type = "memory"
	cfg.KeyPool.Seed = false
	return cfg
}

// SetupTestLogger opens a file-only logger that is closed with the test.
func SetupTestLogger(t testing.TB) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}
