package eventbus

import "time"

// 事件类型定义
const (
	// 会话相关事件
	EventSessionOpened  = "session:opened"
	EventSessionClosed  = "session:closed"
	EventSessionEvicted = "session:evicted"

	// 用户与额度
	EventUserUpdated = "user:updated"

	// 密钥池
	EventKeyPoolExhausted = "keypool:exhausted"

	// 版本推送
	EventVersionUpdated = "version:updated"
)

// Topics lists every topic persisted to the audit trail.
func Topics() []string {
	return []string{
		EventSessionOpened,
		EventSessionClosed,
		EventSessionEvicted,
		EventUserUpdated,
		EventKeyPoolExhausted,
		EventVersionUpdated,
	}
}

// 事件数据结构
type SessionEventData struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id,omitempty"`
	Privileged    bool      `json:"is_admin,omitempty"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Reason        string    `json:"reason,omitempty"`
}

type UserEventData struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

type KeyPoolEventData struct {
	Provider  string `json:"provider"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

type VersionEventData struct {
	Version string `json:"version"`
}
