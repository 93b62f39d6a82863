package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	appsession "senweaver-server-go/internal/app/session"
	"senweaver-server-go/internal/domain/access"
	domainauth "senweaver-server-go/internal/domain/auth"
	authstore "senweaver-server-go/internal/domain/auth/store"
	"senweaver-server-go/internal/domain/eventbus"
	eventinfra "senweaver-server-go/internal/domain/eventbus/infrastructure"
	"senweaver-server-go/internal/domain/keypool"
	keypoolmodel "senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/keyprobe"
	platformconfig "senweaver-server-go/internal/platform/config"
	platformerrors "senweaver-server-go/internal/platform/errors"
	platformlogging "senweaver-server-go/internal/platform/logging"
	platformobservability "senweaver-server-go/internal/platform/observability"
	platformstorage "senweaver-server-go/internal/platform/storage"
	"senweaver-server-go/internal/platform/storage/migrations"
	httptransport "senweaver-server-go/internal/transport/http"
	httpversion "senweaver-server-go/internal/transport/http/version"
	httpwebapi "senweaver-server-go/internal/transport/http/webapi"
	"senweaver-server-go/internal/transport/ws"
)

const bootTag = "引导"

// Options 启动参数
type Options struct {
	// ConfigPath 为空时在工作目录查找 .config.yaml / config.yaml
	ConfigPath string
	// DotEnv 是否先加载 .env
	DotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts       Options
	config     *platformconfig.Config
	configPath string

	logger                *platformlogging.Logger
	registry              *prometheus.Registry
	metrics               *platformobservability.Metrics
	observabilityShutdown platformobservability.ShutdownFunc

	db *gorm.DB

	engine      *keypool.Engine
	admin       *keypool.Admin
	access      *access.Service
	bus         *eventbus.Bus
	audit       *eventbus.Audit
	verifier    *domainauth.Verifier
	authManager *domainauth.Manager
	coordinator *appsession.Coordinator
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	logger := state.logger
	if state.config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	if state.coordinator == nil || state.authManager == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"session coordinator or auth manager not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}
	logger.InfoTag(bootTag, "服务已成功启动")

	return waitForShutdown(signalCtx, cancel, logger, group)
}

// Migrate 仅执行数据库迁移，返回本次应用的版本号
func Migrate(ctx context.Context, opts Options) ([]string, error) {
	var applied []string
	err := withMigrations(ctx, opts, func(manager *platformstorage.MigrationManager) error {
		var err error
		applied, err = manager.RunMigrations()
		return err
	})
	return applied, err
}

// Rollback 回滚指定版本的迁移
func Rollback(ctx context.Context, opts Options, version string) error {
	return withMigrations(ctx, opts, func(manager *platformstorage.MigrationManager) error {
		return manager.RollbackMigration(version)
	})
}

func withMigrations(ctx context.Context, opts Options, fn func(*platformstorage.MigrationManager) error) error {
	state := &appState{opts: opts}
	defer state.close()

	steps := []initStep{}
	for _, step := range InitGraph() {
		switch step.ID {
		case "config:load", "logging:init-provider", "storage:init-database":
			steps = append(steps, step)
		}
	}
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}
	manager := platformstorage.NewMigrationManager(state.db)
	manager.AddMigration(migrations.All()...)
	return fn(manager)
}

// LoadConfig 按启动时相同的规则读取配置
func LoadConfig(opts Options) (*platformconfig.Config, string, error) {
	result, err := platformconfig.NewLoader().WithDotEnv(opts.DotEnv).WithPath(opts.ConfigPath).Load()
	if err != nil {
		return nil, "", err
	}
	return result.Config, result.Path, nil
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag(bootTag, "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag(bootTag, "%s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag(bootTag, "%s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph 返回按依赖顺序排列的初始化步骤
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup metrics and spans",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Open database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "storage:migrate",
			Title:     "Apply schema migrations",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   migrateStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "Initialise event bus",
			DependsOn: []string{"storage:migrate"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "keypool:init-engine",
			Title:     "Initialise key pool",
			DependsOn: []string{"storage:migrate", "observability:setup-hooks"},
			Execute:   initKeyPoolStep,
		},
		{
			ID:        "access:init-service",
			Title:     "Initialise usage accounting",
			DependsOn: []string{"storage:migrate"},
			Execute:   initAccessStep,
		},
		{
			ID:        "auth:init-manager",
			Title:     "Initialise auth manager",
			DependsOn: []string{"storage:migrate"},
			Kind:      platformerrors.KindAuth,
			Execute:   initAuthStep,
		},
		{
			ID:        "session:init-coordinator",
			Title:     "Initialise session coordinator",
			DependsOn: []string{"keypool:init-engine", "access:init-service", "auth:init-manager", "events:init-bus"},
			Execute:   initCoordinatorStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	config, path, err := LoadConfig(state.opts)
	if err != nil {
		return err
	}
	state.config = config
	state.configPath = path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
		Console:  state.config.Log.Console,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag(bootTag, "日志模块就绪 [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, shutdown, err := platformobservability.Setup(ctx, platformobservability.Config{
		Enabled:   state.config.Metrics.Enabled,
		Namespace: state.config.Metrics.Namespace,
	}, state.logger.Slog(), registry)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.registry = registry
	state.metrics = metrics
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	cfg := state.config.Database
	db, err := platformstorage.Open(platformstorage.Options{
		Driver:      cfg.Driver,
		DSN:         cfg.DSN,
		MaxOpen:     cfg.MaxOpenConns,
		MaxIdle:     cfg.MaxIdleConns,
		ConnMaxLife: cfg.ConnMaxLife,
		Logger:      state.logger,
	})
	if err != nil {
		return err
	}
	state.db = db
	state.logger.InfoTag("存储", "数据库已连接 driver=%s", cfg.Driver)
	return nil
}

func migrateStep(_ context.Context, state *appState) error {
	applied, err := migrations.Apply(platformstorage.NewMigrationManager(state.db))
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:migrate", "failed to apply migrations", err)
	}
	if len(applied) > 0 {
		state.logger.InfoTag("存储", "已应用数据库迁移: %s", strings.Join(applied, ", "))
	}
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	cfg := state.config.Events
	repo := eventinfra.NewEventRepository(state.db)
	bus := eventbus.New(cfg.Workers, state.logger)
	if err := eventbus.NewRecorder(repo, state.logger).Attach(bus); err != nil {
		bus.Close()
		return platformerrors.Wrap(platformerrors.KindBootstrap, "events:init-bus", "failed to attach event recorder", err)
	}
	state.bus = bus
	state.audit = eventbus.NewAudit(repo, cfg.Retention, state.logger)
	return nil
}

func initKeyPoolStep(ctx context.Context, state *appState) error {
	repo := platformstorage.NewKeyPoolRepository(state.db)
	state.engine = keypool.NewEngine(repo,
		keypool.WithLogger(state.logger),
		keypool.WithMetrics(state.metrics),
	)
	state.admin = keypool.NewAdmin(repo, state.engine, state.logger)

	if !state.config.KeyPool.Seed {
		return nil
	}
	if err := state.admin.Seed(ctx, seedProviders(state.config.KeyPool.Providers)); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "keypool:init-engine", "failed to seed key pool", err)
	}
	return nil
}

func seedProviders(seeds []platformconfig.ProviderSeed) []keypool.SeedProvider {
	out := make([]keypool.SeedProvider, 0, len(seeds))
	for _, seed := range seeds {
		out = append(out, keypool.SeedProvider{
			Name:        keypoolmodel.ProviderName(seed.Name),
			DisplayName: seed.DisplayName,
			BaseURL:     seed.BaseURL,
			Priority:    seed.Priority,
			MaxClients:  seed.MaxClients,
			Keys:        seed.Keys,
		})
	}
	return out
}

func initAccessStep(_ context.Context, state *appState) error {
	state.access = access.NewService(
		platformstorage.NewAccessRepository(state.db),
		access.Defaults{
			UsageLimit: int64(state.config.Access.UsageLimit),
			ResetDays:  state.config.Access.ResetDays,
		},
		state.logger,
	)
	return nil
}

func initAuthStep(_ context.Context, state *appState) error {
	state.verifier = domainauth.NewVerifier(state.config.Auth.Secret, state.config.Auth.UsageWindow)

	authManager, err := initAuthManager(state.config, state.logger, state.db)
	if err != nil {
		return err
	}
	state.authManager = authManager
	return nil
}

func initAuthManager(config *platformconfig.Config, logger *platformlogging.Logger, db *gorm.DB) (*domainauth.Manager, error) {
	storeCfg := config.Auth.Store
	cfg := authstore.Config{
		Driver: strings.ToLower(strings.TrimSpace(storeCfg.Type)),
		TTL:    storeCfg.Expiry,
	}

	cleanupInterval := storeCfg.Cleanup
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}

	switch cfg.Driver {
	case "", authstore.DriverMemory:
		cfg.Driver = authstore.DriverMemory
		if storeCfg.Memory.Cleanup > 0 {
			cleanupInterval = storeCfg.Memory.Cleanup
		}
		cfg.Memory = &authstore.MemoryConfig{GCInterval: cleanupInterval}
	case authstore.DriverSQLite, authstore.DriverDatabase:
	case authstore.DriverRedis:
		cfg.Redis = &authstore.RedisConfig{
			Addr:     storeCfg.Redis.Addr,
			Username: storeCfg.Redis.Username,
			Password: storeCfg.Redis.Password,
			DB:       storeCfg.Redis.DB,
			Prefix:   storeCfg.Redis.Prefix,
		}
	default:
		logger.WarnTag("认证", "不支持的存储类型 %s，已自动回退至内存模式", storeCfg.Type)
		cfg.Driver = authstore.DriverMemory
		cfg.Memory = &authstore.MemoryConfig{GCInterval: cleanupInterval}
	}

	store, err := authstore.New(cfg, authstore.Dependencies{DB: db})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindAuth, "auth:init-manager", "failed to create auth store", err)
	}

	tokens := domainauth.NewAdminToken(config.Auth.Admin.JWTSecret).WithTTL(config.Auth.Admin.TokenTTL)
	manager, err := domainauth.NewManager(domainauth.Options{
		Store:           store,
		Logger:          logger,
		Tokens:          tokens,
		Username:        config.Auth.Admin.Username,
		Password:        config.Auth.Admin.Password,
		CleanupInterval: cleanupInterval,
	})
	if err != nil {
		_ = store.Close(context.Background())
		return nil, platformerrors.Wrap(platformerrors.KindAuth, "auth:init-manager", "failed to create auth manager", err)
	}
	logger.InfoTag("认证", "管理员会话存储: %s", cfg.Driver)
	return manager, nil
}

func initCoordinatorStep(_ context.Context, state *appState) error {
	coordinator, err := appsession.New(appsession.Options{
		Engine:            state.engine,
		Access:            state.access,
		Verifier:          state.verifier,
		Admins:            state.authManager,
		Events:            state.bus,
		Logger:            state.logger,
		Metrics:           state.metrics,
		Version:           state.config.Session.Version,
		HeartbeatInterval: state.config.Session.HeartbeatInterval,
		WriteTimeout:      state.config.Session.WriteTimeout,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "session:init-coordinator", "failed to create session coordinator", err)
	}
	state.coordinator = coordinator
	return nil
}

// close 逆序释放初始化过程中获得的资源
func (s *appState) close() {
	if s.authManager != nil {
		if err := s.authManager.Close(); err != nil {
			s.logger.ErrorTag("认证", "认证管理器未正常关闭: %v", err)
		}
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			s.logger.WarnTag("存储", "数据库未正常关闭: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(shutdownCtx); err != nil {
			s.logger.WarnTag(bootTag, "可观测性未正常关闭: %v", err)
		}
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	wsServer, err := startTransportServer(state, g, groupCtx)
	if err != nil {
		return fmt.Errorf("启动 WebSocket 服务失败: %w", err)
	}

	g.Go(func() error {
		return state.coordinator.RunHeartbeatLoop(groupCtx)
	})
	g.Go(func() error {
		return state.audit.RunRetention(groupCtx, state.config.Events.SweepInterval)
	})

	if !state.config.Web.Enabled {
		state.logger.InfoTag("HTTP", "HTTP 管理接口已关闭")
		return nil
	}
	if _, err := startHTTPServer(state, wsServer, g, groupCtx); err != nil {
		return fmt.Errorf("启动 Http 服务失败: %w", err)
	}
	return nil
}

func startTransportServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*ws.Server, error) {
	cfg := state.config
	hub := ws.NewHub(state.logger)
	router := ws.NewRouter(hub, state.coordinator, state.logger, ws.RouterOptions{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		ReadLimit:        cfg.Session.ReadLimit,
	})
	server := ws.NewServer(ws.ServerConfig{
		Addr:             net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		Path:             cfg.Session.Path,
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
	}, router, hub, state.logger)

	g.Go(func() error {
		go func() {
			<-groupCtx.Done()
			state.logger.InfoTag("WebSocket", "收到关闭信号，正在关闭 WebSocket 服务")
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// 先通知客户端服务关闭并释放分配，再断开连接
			state.coordinator.Shutdown(stopCtx)
			if err := server.Stop(stopCtx); err != nil {
				state.logger.ErrorTag("WebSocket", "关闭 WebSocket 服务失败: %v", err)
			} else {
				state.logger.InfoTag("WebSocket", "WebSocket 服务已优雅关闭")
			}
		}()

		if err := server.Start(groupCtx); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			state.logger.ErrorTag("WebSocket", "WebSocket 服务运行失败: %v", err)
			return err
		}
		return nil
	})
	return server, nil
}

func startHTTPServer(state *appState, wsServer *ws.Server, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	cfg := state.config

	httpRouter, err := httptransport.Build(httptransport.Options{
		Debug:          strings.EqualFold(cfg.Log.Level, "debug"),
		Logger:         state.logger,
		Metrics:        state.metrics,
		AuthMiddleware: httptransport.AdminAuth(state.authManager, state.logger),
		AllowOrigins:   cfg.Web.AllowOrigins,
		StaticRoot:     cfg.Web.StaticDir,
	})
	if err != nil {
		return nil, err
	}

	webapiService, err := httpwebapi.NewService(httpwebapi.Options{
		Engine:      state.engine,
		Admin:       state.admin,
		Access:      state.access,
		Auth:        state.authManager,
		Verifier:    state.verifier,
		Sessions:    state.coordinator,
		Prober:      keyprobe.NewProber(cfg.KeyPool.ProbeTimeout, state.logger),
		Events:      state.bus,
		Audit:       state.audit,
		Logger:      state.logger,
		Connections: wsServer.Count,
	})
	if err != nil {
		state.logger.ErrorTag("HTTP", "WebAPI 服务初始化失败: %v", err)
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "webapi:new-service", "failed to create webapi service", err)
	}

	versionService, err := httpversion.NewService(state.coordinator, state.logger)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "version:new-service", "failed to create version service", err)
	}

	if err := webapiService.Register(groupCtx, httpRouter); err != nil {
		return nil, err
	}
	if err := versionService.Register(groupCtx, httpRouter); err != nil {
		return nil, err
	}
	httptransport.NewClientsHandler(state.coordinator.Registry()).RegisterRoutes(httpRouter)

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = state.registry
	}
	httptransport.MountOps(httpRouter.Engine, httptransport.OpsOptions{
		Gatherer:    gatherer,
		MetricsPath: cfg.Metrics.Path,
		Logger:      state.logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Web.Port),
		Handler:           httpRouter.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		state.logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://localhost:%d", cfg.Web.Port)
		state.logger.InfoTag("HTTP", "在线文档入口: http://localhost:%d/docs", cfg.Web.Port)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				state.logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				state.logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			state.logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag(bootTag, "收到系统信号 %v，正在进行资源清理", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag(bootTag, "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag(bootTag, "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag(bootTag, "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}
