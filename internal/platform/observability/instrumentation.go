package observability

import (
	"context"
	"log/slog"
	"time"
)

// Enabled reports whether metrics have been toggled on.
func Enabled() bool {
	_, cfg, _ := current()
	return cfg.Enabled
}

// StartSpan times an operation. The returned func logs the outcome at debug
// level and feeds the operation duration histogram.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, _, metrics := current()
	if logger == nil && metrics == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	return ctx, func(err error) {
		elapsed := time.Since(start)
		metrics.observeOperation(component, operation, err, elapsed)
		if logger == nil {
			return
		}

		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}
