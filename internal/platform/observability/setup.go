package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config captures observability toggles.
type Config struct {
	Enabled   bool
	Namespace string
}

// ShutdownFunc allows callers to tear down any observability exporters.
type ShutdownFunc func(context.Context) error

var (
	stateMu            sync.RWMutex
	instrumentationLog *slog.Logger
	instrumentationCfg Config
	globalMetrics      *Metrics
)

func current() (*slog.Logger, Config, *Metrics) {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return instrumentationLog, instrumentationCfg, globalMetrics
}

// Setup creates the collectors and installs them for StartSpan. When metrics
// are disabled the returned *Metrics is nil and every recorder is a no-op.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger, reg prometheus.Registerer) (*Metrics, ShutdownFunc, error) {
	var metrics *Metrics
	if cfg.Enabled {
		metrics = NewMetrics(cfg.Namespace, reg)
	}

	stateMu.Lock()
	instrumentationLog = logger
	instrumentationCfg = cfg
	globalMetrics = metrics
	stateMu.Unlock()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[指标] Prometheus 指标已启用", slog.String("namespace", cfg.Namespace))
		} else {
			logger.InfoContext(ctx, "[指标] 指标已关闭")
		}
	}
	return metrics, func(context.Context) error {
		stateMu.Lock()
		globalMetrics = nil
		instrumentationLog = nil
		stateMu.Unlock()
		return nil
	}, nil
}
