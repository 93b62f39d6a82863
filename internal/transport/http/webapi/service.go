package webapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"senweaver-server-go/internal/domain/access"
	"senweaver-server-go/internal/domain/auth"
	"senweaver-server-go/internal/domain/eventbus"
	"senweaver-server-go/internal/domain/keypool"
	"senweaver-server-go/internal/domain/keyprobe"
	"senweaver-server-go/internal/platform/errors"
	"senweaver-server-go/internal/platform/logging"
	httptransport "senweaver-server-go/internal/transport/http"
)

const logTag = "HTTP"

// Sessions is the live session surface admin actions push through.
type Sessions interface {
	DisableIdentity(ctx context.Context, identity string) int
	RefreshIdentity(ctx context.Context, identity string) int
	PushToIdentity(ctx context.Context, identity string, msg any) int
}

// Options wires the WebAPI service.
type Options struct {
	Engine      *keypool.Engine
	Admin       *keypool.Admin
	Access      *access.Service
	Auth        *auth.Manager
	Verifier    *auth.Verifier
	Sessions    Sessions
	Prober      *keyprobe.Prober
	Events      eventbus.Publisher
	Audit       *eventbus.Audit
	Logger      *logging.Logger
	Connections func() int
}

// Service WebAPI服务的HTTP传输层实现
type Service struct {
	engine      *keypool.Engine
	admin       *keypool.Admin
	access      *access.Service
	auth        *auth.Manager
	verifier    *auth.Verifier
	sessions    Sessions
	prober      *keyprobe.Prober
	events      eventbus.Publisher
	audit       *eventbus.Audit
	logger      *logging.Logger
	connections func() int
	started     time.Time

	status singleflight.Group
}

// NewService 创建新的WebAPI服务实例
func NewService(opts Options) (*Service, error) {
	if opts.Engine == nil || opts.Admin == nil {
		return nil, errors.Wrap(errors.KindConfig, "webapi.new", "key pool engine and admin are required", nil)
	}
	if opts.Access == nil || opts.Verifier == nil {
		return nil, errors.New(errors.KindConfig, "webapi.new", "access service and verifier are required")
	}
	if opts.Auth == nil {
		return nil, errors.New(errors.KindConfig, "webapi.new", "auth manager is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New(errors.KindConfig, "webapi.new", "session coordinator is required")
	}
	if opts.Prober == nil {
		opts.Prober = keyprobe.NewProber(0, opts.Logger)
	}

	return &Service{
		engine:      opts.Engine,
		admin:       opts.Admin,
		access:      opts.Access,
		auth:        opts.Auth,
		verifier:    opts.Verifier,
		sessions:    opts.Sessions,
		prober:      opts.Prober,
		events:      opts.Events,
		audit:       opts.Audit,
		logger:      opts.Logger,
		connections: opts.Connections,
		started:     time.Now(),
	}, nil
}

// Register 注册WebAPI相关的HTTP路由
func (s *Service) Register(ctx context.Context, router *httptransport.Router) error {
	api := router.API
	api.GET("/health", s.handleHealth)

	// 密钥池，返回明文密钥，需要管理员令牌
	router.Protected.GET("/model/keys/status", s.handleKeyStatus)
	router.Protected.POST("/model/keys/allocate", s.handleAllocate)

	// 模型用量
	api.POST("/usage/model", s.handleUsageReport)
	api.GET("/usage/model/access", s.handleUsageAccess)

	// 管理员登录不需要认证
	api.POST("/admin/login", s.handleLogin)

	s.registerAdminRoutes(router.Secured)

	s.logger.InfoTag(logTag, "WebAPI服务路由注册完成")
	return nil
}

// registerAdminRoutes 注册管理员相关路由
func (s *Service) registerAdminRoutes(admin *gin.RouterGroup) {
	admin.POST("/logout", s.handleLogout)

	admin.GET("/providers", s.handleProvidersList)
	admin.POST("/providers", s.handleProviderCreate)
	admin.PUT("/providers/:id", s.handleProviderUpdate)
	admin.DELETE("/providers/:id", s.handleProviderDelete)

	admin.GET("/pools", s.handlePoolsList)
	admin.POST("/pools", s.handlePoolCreate)
	admin.POST("/pools/batch", s.handlePoolBatchCreate)
	admin.PUT("/pools/:id", s.handlePoolUpdate)
	admin.DELETE("/pools/:id", s.handlePoolDelete)
	admin.POST("/pools/:id/probe", s.handlePoolProbe)

	admin.GET("/allocations", s.handleAllocationsList)
	admin.DELETE("/allocations/:client_id", s.handleAllocationRelease)

	admin.GET("/users", s.handleUsersList)
	admin.POST("/users/:user_id/ban", s.handleUserBan)
	admin.POST("/users/:user_id/unban", s.handleUserUnban)
	admin.PUT("/users/:user_id/access", s.handleUserAccess)
	admin.POST("/push/:user_id", s.handlePush)

	admin.GET("/system", s.handleSystem)

	if s.audit != nil {
		admin.GET("/events", s.handleEventsList)
		admin.GET("/events/stats", s.handleEventStats)
	}
}

// handleHealth 健康检查
// @Summary 服务健康检查
// @Tags Public
// @Produce json
// @Success 200 {object} httptransport.APIResponse
// @Router /health [get]
func (s *Service) handleHealth(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}, "")
}

func (s *Service) publish(topic string, data any) {
	if s.events != nil {
		s.events.Publish(topic, data)
	}
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
