package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetentionDays 归档日志保留天数
const RetentionDays = 7

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console 为 false 时仅写文件，测试中常用
	Console bool
}

// Logger writes every record twice: JSON lines to a daily rotated file and a
// coloured single line to stdout.
type Logger struct {
	cfg   Config
	level slog.Level

	mu          sync.RWMutex
	file        *os.File
	fileLogger  *slog.Logger
	console     *slog.Logger
	currentDate string

	stopCh    chan struct{}
	closeOnce sync.Once
}

// New opens the log file and starts the rotation checker.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		cfg.Dir = "data/logs"
	}
	if cfg.Filename == "" {
		cfg.Filename = "server.log"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	level := ParseLevel(cfg.Level)
	file, err := openLogFile(cfg)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		cfg:         cfg,
		level:       level,
		file:        file,
		fileLogger:  slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})),
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}
	if cfg.Console {
		l.console = slog.New(newConsoleHandler(os.Stdout, level))
	} else {
		l.console = slog.New(discardHandler{})
	}

	go l.rotationLoop()
	return l, nil
}

// ParseLevel maps config strings (any case) to slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(cfg Config) (*os.File, error) {
	path := filepath.Join(cfg.Dir, cfg.Filename)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return file, nil
}

func (l *Logger) rotationLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if today := now.Format("2006-01-02"); today != l.date() {
				l.rotate(today)
				l.cleanArchives(now)
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *Logger) date() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentDate
}

// rotate renames server.log to server-<date>.log and reopens a fresh file.
func (l *Logger) rotate(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
	}

	ext := filepath.Ext(l.cfg.Filename)
	base := strings.TrimSuffix(l.cfg.Filename, ext)
	current := filepath.Join(l.cfg.Dir, l.cfg.Filename)
	archived := filepath.Join(l.cfg.Dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))
	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, archived); err != nil {
			l.console.Error("重命名日志文件失败", slog.String("error", err.Error()))
		}
	}

	file, err := openLogFile(l.cfg)
	if err != nil {
		l.console.Error("创建新日志文件失败", slog.String("error", err.Error()))
		return
	}
	l.file = file
	l.fileLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.level}))
	l.currentDate = newDate
}

func (l *Logger) cleanArchives(now time.Time) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -RetentionDays)
	ext := filepath.Ext(l.cfg.Filename)
	prefix := strings.TrimSuffix(l.cfg.Filename, ext) + "-"

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		day, err := time.Parse("2006-01-02", stamp)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.cfg.Dir, name)); err == nil {
			l.console.Info("已删除旧日志文件", slog.String("file", name))
		}
	}
}

// Close stops rotation and closes the file. Safe to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.file != nil {
			err = l.file.Close()
			l.file = nil
		}
	})
	return err
}

// Slog exposes a structured logger that writes to both sinks.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(fanoutHandler{owner: l})
}

func (l *Logger) emit(level slog.Level, msg string, args ...any) {
	if l == nil || level < l.level {
		return
	}

	var attrs []slog.Attr
	if len(args) > 0 && strings.Contains(msg, "%") {
		msg = fmt.Sprintf(msg, args...)
	} else if len(args) > 0 && args[0] != nil {
		if fields, ok := args[0].(map[string]any); ok {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, fields[k]))
			}
		} else {
			attrs = append(attrs, slog.Any("fields", args[0]))
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	ctx := context.Background()
	if l.file != nil {
		l.fileLogger.LogAttrs(ctx, level, msg, attrs...)
	}
	l.console.LogAttrs(ctx, level, msg, attrs...)
}

// FormatLog 构造带分类标签的日志消息，例如 FormatLog("会话", "已建立") -> "[会话] 已建立"。
// 已经以 "[" 开头的消息原样返回。
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return "[" + tag + "] " + message
}

func (l *Logger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args...) }

// DebugTag 记录带分类标签的调试日志
func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.emit(slog.LevelDebug, FormatLog(tag, msg), args...)
}

// InfoTag 记录带分类标签的信息日志
func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.emit(slog.LevelInfo, FormatLog(tag, msg), args...)
}

// WarnTag 记录带分类标签的警告日志
func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.emit(slog.LevelWarn, FormatLog(tag, msg), args...)
}

// ErrorTag 记录带分类标签的错误日志
func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.emit(slog.LevelError, FormatLog(tag, msg), args...)
}

// Tagged returns a view whose Debug/Info/Warn/Error carry a fixed tag. Domain
// packages depend on that four-method shape rather than on *Logger.
func (l *Logger) Tagged(tag string) *TaggedLogger {
	return &TaggedLogger{base: l, tag: tag}
}

// TaggedLogger is a Logger bound to one category tag.
type TaggedLogger struct {
	base *Logger
	tag  string
}

func (t *TaggedLogger) Debug(msg string, args ...any) { t.base.DebugTag(t.tag, msg, args...) }
func (t *TaggedLogger) Info(msg string, args ...any)  { t.base.InfoTag(t.tag, msg, args...) }
func (t *TaggedLogger) Warn(msg string, args ...any)  { t.base.WarnTag(t.tag, msg, args...) }
func (t *TaggedLogger) Error(msg string, args ...any) { t.base.ErrorTag(t.tag, msg, args...) }
