package webapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"senweaver-server-go/internal/domain/eventbus/repository"
	httptransport "senweaver-server-go/internal/transport/http"
)

// handleEventsList 查询审计事件
// @Summary 查询审计事件
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param session_id query string false "会话ID"
// @Param user_id query string false "用户ID"
// @Param type query string false "事件类型"
// @Param since query string false "RFC3339 起始时间"
// @Success 200 {object} httptransport.APIResponse
// @Router /admin/events [get]
func (s *Service) handleEventsList(c *gin.Context) {
	since, ok := querySince(c)
	if !ok {
		return
	}
	events, total, err := s.audit.List(c.Request.Context(), repository.EventFilter{
		EventType: c.Query("type"),
		SessionID: c.Query("session_id"),
		UserID:    c.Query("user_id"),
		Since:     since,
		Limit:     queryInt(c, "limit", 100),
		Offset:    queryInt(c, "offset", 0),
	})
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"total": total, "events": events}, "")
}

func (s *Service) handleEventStats(c *gin.Context) {
	since, ok := querySince(c)
	if !ok {
		return
	}
	stats, err := s.audit.Stats(c.Request.Context(), since)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	var total int64
	for _, n := range stats {
		total += n
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"total": total, "by_type": stats}, "")
}

func querySince(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid since", gin.H{"error": err.Error()})
		return time.Time{}, false
	}
	return since.UTC(), true
}
