package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"senweaver-server-go/internal/domain/session"
)

// SessionSource exposes read-only views of the live sessions.
type SessionSource interface {
	Snapshot() []session.Snapshot
	CountOnline() int
}

// ClientsHandler 客户端列表处理器
type ClientsHandler struct {
	sessions SessionSource
}

// NewClientsHandler 创建客户端列表处理器
func NewClientsHandler(sessions SessionSource) *ClientsHandler {
	return &ClientsHandler{sessions: sessions}
}

// RegisterRoutes 注册客户端相关路由
func (h *ClientsHandler) RegisterRoutes(router *Router) {
	router.Protected.GET("/clients", h.ListClients)
	router.Protected.GET("/clients/online", h.ListOnline)
	router.API.GET("/stats", h.Stats)
}

// ClientResponse 客户端信息
type ClientResponse struct {
	ClientID      string    `json:"client_id"`
	UserID        string    `json:"user_id"`
	ConnectTime   time.Time `json:"connect_time"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	IsOnline      bool      `json:"is_online"`
}

// ListClients 获取所有客户端信息和在线状态
func (h *ClientsHandler) ListClients(c *gin.Context) {
	snapshots := h.sessions.Snapshot()
	out := make([]ClientResponse, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, toClientResponse(s))
	}
	RespondSuccess(c, http.StatusOK, out, "")
}

// ListOnline 获取当前在线的客户端
func (h *ClientsHandler) ListOnline(c *gin.Context) {
	online := make([]ClientResponse, 0)
	for _, s := range h.sessions.Snapshot() {
		if s.Online {
			online = append(online, toClientResponse(s))
		}
	}
	RespondSuccess(c, http.StatusOK, gin.H{
		"online_count": len(online),
		"clients":      online,
	}, "")
}

// Stats 获取服务器统计信息
func (h *ClientsHandler) Stats(c *gin.Context) {
	total := len(h.sessions.Snapshot())
	online := h.sessions.CountOnline()
	RespondSuccess(c, http.StatusOK, gin.H{
		"total_clients":   total,
		"online_clients":  online,
		"offline_clients": total - online,
	}, "")
}

func toClientResponse(s session.Snapshot) ClientResponse {
	return ClientResponse{
		ClientID:      s.SessionID,
		UserID:        s.UserID,
		ConnectTime:   s.ConnectedAt,
		LastHeartbeat: s.LastHeartbeat,
		IsOnline:      s.Online,
	}
}
