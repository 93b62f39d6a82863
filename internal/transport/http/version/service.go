package version

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"senweaver-server-go/internal/platform/errors"
	"senweaver-server-go/internal/platform/logging"
	httptransport "senweaver-server-go/internal/transport/http"
)

// Announcer holds the client version pushed in heartbeats.
type Announcer interface {
	Version() string
	TriggerVersionUpdate(version string)
}

// Service 客户端版本服务的HTTP传输层实现
type Service struct {
	announcer Announcer
	logger    *logging.Logger
}

// NewService 创建新的版本服务实例
func NewService(announcer Announcer, logger *logging.Logger) (*Service, error) {
	if announcer == nil {
		return nil, errors.Wrap(errors.KindConfig, "version.new", "version announcer is required", nil)
	}
	return &Service{announcer: announcer, logger: logger}, nil
}

// Register 注册版本相关的HTTP路由
func (s *Service) Register(ctx context.Context, router *httptransport.Router) error {
	router.API.GET("/version/current", s.handleCurrent)
	router.API.GET("/version/check", s.handleCheck)
	router.Secured.POST("/version", s.handlePublish)

	s.logger.InfoTag("HTTP", "版本服务路由注册完成")
	return nil
}

// UpdateRequest 发布新版本
type UpdateRequest struct {
	Version string `json:"version" binding:"required"`
}

// handleCurrent 获取当前客户端版本
// @Summary 获取当前客户端版本
// @Tags Version
// @Produce json
// @Success 200 {object} httptransport.APIResponse
// @Router /version/current [get]
func (s *Service) handleCurrent(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"version": s.announcer.Version()}, "")
}

// handleCheck 比较客户端版本与当前版本
func (s *Service) handleCheck(c *gin.Context) {
	current := strings.TrimSpace(c.Query("current"))
	latest := s.announcer.Version()
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"current":    current,
		"latest":     latest,
		"has_update": current != "" && compareVersions(latest, current) > 0,
	}, "")
}

// handlePublish 发布新版本并立即广播心跳
// @Summary 发布新版本并立即广播心跳
// @Tags Version
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body UpdateRequest true "版本"
// @Success 200 {object} httptransport.APIResponse
// @Router /admin/version [post]
func (s *Service) handlePublish(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	version := strings.TrimSpace(req.Version)
	previous := s.announcer.Version()
	s.announcer.TriggerVersionUpdate(version)
	s.logger.InfoTag("HTTP", "客户端版本更新 %s -> %s", previous, version)
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"previous": previous, "version": version}, "版本已更新")
}

// compareVersions compares dotted numeric versions; a leading "v" and
// non-numeric suffixes are ignored.
func compareVersions(a, b string) int {
	pa := splitVersion(a)
	pb := splitVersion(b)
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+ "); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}
