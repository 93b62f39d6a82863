package webapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	accessmodel "senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/domain/auth"
	"senweaver-server-go/internal/domain/eventbus"
	httptransport "senweaver-server-go/internal/transport/http"
)

const maxModelName = 128

// UsageRequest 模型调用上报
type UsageRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	ModelName string `json:"model_name" binding:"required"`
	APIKey    string `json:"api_key"`
	Timestamp string `json:"timestamp"`
	Auth      string `json:"auth" binding:"required"`
}

// UsageAccess 返回给客户端的额度摘要
type UsageAccess struct {
	Enabled bool   `json:"enabled"`
	Used    int64  `json:"used"`
	Limit   int64  `json:"limit"`
	Reason  string `json:"reason"`
}

// handleUsageReport 上报一次模型调用
// @Summary 上报一次模型调用
// @Tags Usage
// @Accept json
// @Produce json
// @Param body body UsageRequest true "调用信息"
// @Success 200 {object} httptransport.APIResponse
// @Failure 401 {object} httptransport.APIResponse
// @Router /usage/model [post]
func (s *Service) handleUsageReport(c *gin.Context) {
	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	if !s.verifier.VerifyTimeBoxed(req.UserID, req.Timestamp, req.Auth, auth.PurposeUsage) {
		s.logger.WarnTag("用量", "用量上报签名无效 user_id=%s ip=%s", req.UserID, c.ClientIP())
		httptransport.RespondError(c, http.StatusUnauthorized, "签名验证失败", nil)
		return
	}

	clientID := c.GetHeader("X-Client-Id")
	if clientID == "" {
		clientID = "api"
	}
	model := req.ModelName
	if req.APIKey != "" {
		model += ";key=" + keyFingerprint(req.APIKey)
	}
	if len(model) > maxModelName {
		model = model[:maxModelName]
	}

	ctx := c.Request.Context()
	result, err := s.access.RecordUsage(ctx, accessmodel.UsageEntry{
		UserID:    req.UserID,
		ModelName: model,
		Inc:       1,
		ClientID:  clientID,
	})
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	if result.JustExhausted {
		s.sessions.DisableIdentity(ctx, req.UserID)
	}
	s.publish(eventbus.EventUserUpdated, eventbus.UserEventData{UserID: req.UserID, Action: "usage", Data: result.Access})

	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"model_access":  summarize(&result.Access),
		"just_disabled": result.JustExhausted,
	}, "")
}

// handleUsageAccess 查询用户模型调用权限
// @Summary 查询用户模型调用权限
// @Tags Usage
// @Produce json
// @Param user_id query string true "用户ID"
// @Param timestamp query string false "10位时间戳"
// @Param auth query string true "签名"
// @Success 200 {object} httptransport.APIResponse
// @Failure 404 {object} httptransport.APIResponse
// @Router /usage/model/access [get]
func (s *Service) handleUsageAccess(c *gin.Context) {
	userID := c.Query("user_id")
	if !s.verifier.VerifyTimeBoxed(userID, c.Query("timestamp"), c.Query("auth"), auth.PurposeUsage) {
		httptransport.RespondError(c, http.StatusUnauthorized, "签名验证失败", nil)
		return
	}

	ctx := c.Request.Context()
	user, err := s.access.Lookup(ctx, userID)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	if user == nil {
		httptransport.RespondError(c, http.StatusNotFound, "用户不存在", nil)
		return
	}
	access, err := s.access.AccessStatus(ctx, userID)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	if user.Banned() {
		access.Enabled = false
		access.DisabledReason = accessmodel.ReasonBanned
	}
	httptransport.RespondSuccess(c, http.StatusOK, access, "")
}

func summarize(a *accessmodel.Access) UsageAccess {
	return UsageAccess{Enabled: a.Enabled, Used: a.Used, Limit: a.Limit, Reason: a.DisabledReason}
}

// keyFingerprint keeps a short digest of the key the client used.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}
