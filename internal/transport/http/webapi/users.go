package webapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appsession "senweaver-server-go/internal/app/session"
	"senweaver-server-go/internal/domain/access"
	accessmodel "senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/domain/eventbus"
	httptransport "senweaver-server-go/internal/transport/http"
)

// PushRequest 管理员主动推送
type PushRequest struct {
	Type string `json:"type" binding:"required"`
	Data any    `json:"data"`
}

func (s *Service) handleUsersList(c *gin.Context) {
	users, total, err := s.access.ListUsers(c.Request.Context(),
		accessmodel.UserStatus(c.Query("status")),
		queryInt(c, "limit", 50),
		queryInt(c, "offset", 0),
	)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"total": total, "users": users}, "")
}

func (s *Service) handleUserBan(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()
	user, err := s.access.Ban(ctx, userID)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	sessions := s.sessions.DisableIdentity(ctx, userID)
	s.publish(eventbus.EventUserUpdated, eventbus.UserEventData{UserID: userID, Action: "ban", Data: user})
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"user": user, "sessions": sessions}, "用户已封禁")
}

func (s *Service) handleUserUnban(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()
	user, err := s.access.Unban(ctx, userID)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	sessions := s.sessions.RefreshIdentity(ctx, userID)
	s.publish(eventbus.EventUserUpdated, eventbus.UserEventData{UserID: userID, Action: "unban", Data: user})
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"user": user, "sessions": sessions}, "用户已解封")
}

// handleUserAccess 更新用户模型权限
// @Summary 更新用户模型权限
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Success 200 {object} httptransport.APIResponse
// @Router /admin/users/{user_id}/access [put]
func (s *Service) handleUserAccess(c *gin.Context) {
	userID := c.Param("user_id")
	var in access.AccessUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	updated, err := s.access.SetAccess(ctx, userID, in)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}

	// RefreshIdentity 会在仍被禁用时转为推送禁用配置
	sessions := s.sessions.RefreshIdentity(ctx, userID)
	s.publish(eventbus.EventUserUpdated, eventbus.UserEventData{UserID: userID, Action: "access", Data: updated})
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"access": updated, "sessions": sessions}, "")
}

func (s *Service) handlePush(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	userID := c.Param("user_id")
	n := s.sessions.PushToIdentity(c.Request.Context(), userID, appsession.PushMessage{Type: req.Type, Data: req.Data})
	if n == 0 {
		httptransport.RespondError(c, http.StatusNotFound, "用户不在线", gin.H{"user_id": userID})
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"delivered": n}, "")
}
