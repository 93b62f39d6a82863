package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	logger, err := New(Config{Level: level, Dir: dir, Filename: "test.log"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, filepath.Join(dir, "test.log")
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestLogger_TagAndFormat(t *testing.T) {
	logger, path := newTestLogger(t, "info")

	logger.InfoTag("密钥池", "分配成功 provider=%s pool=%d", "deepseek", 3)
	logger.Warn("plain warning")

	content := readLog(t, path)
	assert.Contains(t, content, "[密钥池] 分配成功 provider=deepseek pool=3")
	assert.Contains(t, content, "plain warning")
}

func TestLogger_LevelFilter(t *testing.T) {
	logger, path := newTestLogger(t, "warn")

	logger.Info("should be filtered")
	logger.DebugTag("会话", "should be filtered too")
	logger.ErrorTag("会话", "kept")

	content := readLog(t, path)
	assert.NotContains(t, content, "filtered")
	assert.Contains(t, content, "[会话] kept")
}

func TestLogger_StructuredFields(t *testing.T) {
	logger, path := newTestLogger(t, "debug")

	logger.Info("allocation", map[string]any{"session": "s1", "provider": "zai"})
	logger.Slog().Info("from slog", "k", "v")

	content := readLog(t, path)
	assert.Contains(t, content, `"provider":"zai"`)
	assert.Contains(t, content, `"session":"s1"`)
	assert.Contains(t, content, `"k":"v"`)
}

func TestLogger_Rotate(t *testing.T) {
	logger, path := newTestLogger(t, "info")
	logger.Info("before rotate")

	previous := logger.date()
	logger.rotate(time.Now().AddDate(0, 0, 1).Format("2006-01-02"))
	logger.Info("after rotate")

	archived := filepath.Join(filepath.Dir(path), "test-"+previous+".log")
	assert.Contains(t, readLog(t, archived), "before rotate")
	assert.Contains(t, readLog(t, path), "after rotate")
}

func TestFormatLog(t *testing.T) {
	tests := []struct {
		tag, msg, want string
	}{
		{"引导", "服务已启动", "[引导] 服务已启动"},
		{"", "no tag", "no tag"},
		{"HTTP", "[WebSocket] already tagged", "[WebSocket] already tagged"},
	}
	for _, tt := range tests {
		if got := FormatLog(tt.tag, tt.msg); got != tt.want {
			t.Errorf("FormatLog(%q, %q) = %q, want %q", tt.tag, tt.msg, got, tt.want)
		}
	}
}

func TestLogger_CloseIdempotent(t *testing.T) {
	logger, _ := newTestLogger(t, "info")
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
	logger.Info("after close is dropped")
}
