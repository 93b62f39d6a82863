package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	accessmodel "senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/domain/keypool/model"
)

// Message types exchanged over the channel.
const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeInit        = "init"
	TypeHeartbeat   = "heartbeat"
	TypeUsageReport = "model_usage_report"

	TypeConnection    = "connection"
	TypeConfigUpdate  = "model_config_update"
	TypeAccessUpdate  = "model_access_update"
	TypeInitSuccess   = "init_success"
	TypeUsageAck      = "model_usage_ack"
	TypeError         = "error"
	TypeUserUpdate    = "user_update"
	TypeSessionUpdate = "session_update"
)

// Error codes carried by error messages.
const (
	CodeKeyPoolFull = "KEY_POOL_FULL"
	CodeBadMessage  = "BAD_MESSAGE"
)

// Close codes and reasons.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008

	ReasonAuthFailed          = "Authentication failed"
	ReasonHeartbeatAuthFailed = "Heartbeat authentication failed"
	ReasonShutdown            = "server shutdown"
)

// Client facing texts.
const (
	msgConnected         = "连接成功"
	msgConnectedAdmin    = "连接成功 (管理员)"
	msgConnectedDisabled = "连接成功，模型调用已被禁用"
	msgConnectedPoolFull = "连接成功，但密钥池已满，未分配模型配置"
	msgPoolFull          = "服务器密钥池已满，无法分配新的模型配置"
	msgEvicted           = "您的账号已在其他设备登录，连接已断开"
	msgUnknownUser       = "用户认证失败，连接断开"
	msgBadMessage        = "无法解析的消息"
	msgInitOK            = "初始化成功，当前配置有效"
	reasonReassigned     = "配置重新分配"
)

// Flexible accepts a JSON string or number and keeps its text form.
type Flexible string

func (f *Flexible) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		*f = Flexible(unquoted)
		return nil
	}
	*f = Flexible(s)
	return nil
}

// ReportedProvider is one entry of the client's cached provider map. A nil
// APIKey means the client sent the provider without a key.
type ReportedProvider struct {
	APIKey  *string `json:"api_key"`
	BaseURL string  `json:"base_url,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

// InitMessage 客户端初始化
type InitMessage struct {
	UserID         string                      `json:"user_id"`
	Timestamp      Flexible                    `json:"timestamp"`
	Auth           string                      `json:"auth"`
	ModelProviders map[string]ReportedProvider `json:"model_providers"`
}

// HeartbeatMessage 客户端心跳
type HeartbeatMessage struct {
	UserID         string                      `json:"user_id"`
	Timestamp      Flexible                    `json:"timestamp"`
	Auth           string                      `json:"auth"`
	ModelProviders map[string]ReportedProvider `json:"model_providers"`
}

// UsageReportMessage 模型调用上报
type UsageReportMessage struct {
	UserID    string `json:"user_id"`
	ModelName string `json:"model_name"`
	Inc       *int   `json:"inc"`
}

// AccessPayload is the quota view sent to clients.
type AccessPayload struct {
	Enabled       bool       `json:"enabled"`
	Used          int64      `json:"used"`
	UsedTotal     int64      `json:"used_total"`
	Limit         int64      `json:"limit"`
	ResetDays     int        `json:"reset_days"`
	LastResetTime *time.Time `json:"last_reset_time"`
	Reason        string     `json:"reason"`
}

type pongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type connectionMessage struct {
	Type           string                    `json:"type"`
	Message        string                    `json:"message"`
	ClientID       string                    `json:"client_id"`
	UserID         string                    `json:"user_id,omitempty"`
	Version        string                    `json:"version"`
	Timestamp      string                    `json:"timestamp"`
	ModelAccess    *AccessPayload            `json:"model_access,omitempty"`
	ModelProviders model.ProviderCredentials `json:"model_providers,omitempty"`
}

type configUpdateMessage struct {
	Type           string                    `json:"type"`
	Timestamp      string                    `json:"timestamp"`
	ModelProviders model.ProviderCredentials `json:"model_providers"`
	Reason         string                    `json:"reason,omitempty"`
	Details        []string                  `json:"details,omitempty"`
}

type accessUpdateMessage struct {
	Type string `json:"type"`
	AccessPayload
	Timestamp string `json:"timestamp"`
}

type initSuccessMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

type usageAckMessage struct {
	Type    string        `json:"type"`
	Success bool          `json:"success"`
	Usage   *UsagePayload `json:"usage,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// UsagePayload is the quota after a usage report.
type UsagePayload struct {
	AccessPayload
	JustDisabled bool `json:"just_disabled"`
}

type errorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

type heartbeatMessage struct {
	Type      string `json:"type"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// PushMessage is an admin fan-out payload.
type PushMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encode(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func decode(raw []byte, v any) error {
	return sonic.Unmarshal(raw, v)
}

func stamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

func accessPayload(a *accessmodel.Access) *AccessPayload {
	if a == nil {
		return nil
	}
	return &AccessPayload{
		Enabled:       a.Enabled,
		Used:          a.Used,
		UsedTotal:     a.UsedTotal,
		Limit:         a.Limit,
		ResetDays:     a.ResetDays,
		LastResetTime: a.LastResetTime,
		Reason:        a.DisabledReason,
	}
}

// bannedPayload is what a banned user sees instead of their quota.
func bannedPayload() *AccessPayload {
	return &AccessPayload{
		Enabled:   false,
		ResetDays: 30,
		Reason:    accessmodel.ReasonBanned,
	}
}

func standingPayload(st *accessmodel.Standing) *AccessPayload {
	if st == nil {
		return nil
	}
	if st.User.Banned() {
		return bannedPayload()
	}
	return accessPayload(st.Access)
}

func disabledCredentials(providers []model.Provider) model.ProviderCredentials {
	creds := make(model.ProviderCredentials, len(providers))
	for _, p := range providers {
		creds[p.Name] = model.Credential{APIKey: model.DisabledKey, BaseURL: p.BaseURL}
	}
	return creds
}
