package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"senweaver-server-go/internal/platform/errors"
	"senweaver-server-go/internal/platform/logging"
)

// Options 数据库连接参数
type Options struct {
	Driver      string
	DSN         string
	MaxOpen     int
	MaxIdle     int
	ConnMaxLife time.Duration
	Logger      *logging.Logger
	// SlowThreshold 超过该耗时的语句记为慢查询，0 表示 500ms
	SlowThreshold time.Duration
}

// Open 打开数据库连接。sqlite 会自动创建所在目录。
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "data/senweaver.db"
		}
		if !strings.HasPrefix(dsn, "file::memory:") && dsn != ":memory:" {
			if dir := filepath.Dir(strings.SplitN(dsn, "?", 2)[0]); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to create database directory", err)
				}
			}
		}
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, errors.Newf(errors.KindStorage, "storage.open", "unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newGormLogger(opts.Logger, opts.SlowThreshold),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to connect database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to get sql.DB", err)
	}
	if opts.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpen)
	}
	if opts.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdle)
	}
	if opts.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLife)
	}

	return db, nil
}

// sqliteDSN 补齐连接参数。pragma 必须写在 DSN 上才能作用于连接池中的每个连接，
// _txlock=immediate 让写事务在 BEGIN 时即取得写锁。
func sqliteDSN(dsn string) string {
	params := []string{"_foreign_keys=on", "_busy_timeout=5000", "_txlock=immediate"}
	if !strings.Contains(dsn, ":memory:") {
		params = append(params, "_journal_mode=WAL")
	}
	for _, p := range params {
		key := strings.SplitN(p, "=", 2)[0]
		if strings.Contains(dsn, key+"=") {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + p
		} else {
			dsn += "?" + p
		}
	}
	return dsn
}

// Close 关闭底层连接池
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogger 把 gorm 的日志转到项目日志，标签为“存储”
type gormLogger struct {
	base  *logging.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(base *logging.Logger, slow time.Duration) gormlogger.Interface {
	if base == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}
	return &gormLogger{base: base, level: gormlogger.Warn, slow: slow}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.base.InfoTag("存储", msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.base.WarnTag("存储", msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.base.ErrorTag("存储", msg, args...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.base.ErrorTag("存储", "SQL 执行失败: %v (%s, rows=%d, %s)", err, sql, rows, elapsed)
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.base.WarnTag("存储", "慢查询 %s: %s (rows=%d)", elapsed, sql, rows)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.base.DebugTag("存储", "%s (rows=%d, %s)", sql, rows, elapsed)
	}
}
