package webapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"senweaver-server-go/internal/domain/keypool/model"
	httptransport "senweaver-server-go/internal/transport/http"
)

// AllocateRequest 手动分配请求
type AllocateRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	UserID   string `json:"user_id"`
}

// handleKeyStatus 获取密钥池状态
// @Summary 获取密钥池状态
// @Tags KeyPool
// @Produce json
// @Security BearerAuth
// @Success 200 {object} httptransport.APIResponse
// @Router /model/keys/status [get]
func (s *Service) handleKeyStatus(c *gin.Context) {
	// 并发的状态查询合并为一次聚合
	v, err, _ := s.status.Do("status", func() (any, error) {
		return s.engine.Status(c.Request.Context())
	})
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, v.(model.Status), "")
}

// handleAllocate 为指定客户端分配模型配置
// @Summary 为指定客户端分配模型配置
// @Tags KeyPool
// @Accept json
// @Produce json
// @Param body body AllocateRequest true "客户端"
// @Security BearerAuth
// @Success 200 {object} httptransport.APIResponse
// @Failure 503 {object} httptransport.APIResponse
// @Router /model/keys/allocate [post]
func (s *Service) handleAllocate(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}

	creds, err := s.engine.AllocateAll(c.Request.Context(), req.ClientID, req.UserID)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	if len(creds) == 0 {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "密钥池已满，无法分配新的模型配置", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"client_id":      req.ClientID,
		"allocated_keys": creds,
	}, "成功为客户端 "+req.ClientID+" 分配模型配置")
}
