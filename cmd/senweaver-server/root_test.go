package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing file must not be overwritten")

	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, "--no-dotenv", "-c", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# source: "+path)
	assert.Contains(t, out, "key_pool:")
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "log:\n  log_dir: " + filepath.Join(dir, "logs") + "\n  console: false\n" +
		"database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "cli.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := execute(t, "--no-dotenv", "-c", path, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "已应用迁移")

	out, err = execute(t, "--no-dotenv", "-c", path, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "数据库已是最新版本")

	out, err = execute(t, "--no-dotenv", "-c", path, "migrate", "--rollback", "003_access")
	require.NoError(t, err)
	assert.Contains(t, out, "003_access")

	out, err = execute(t, "--no-dotenv", "-c", path, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "已应用迁移 003_access")

	_, err = execute(t, "--no-dotenv", "-c", path, "migrate", "--rollback", "999_missing")
	assert.Error(t, err)
}
