package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Web      WebConfig      `yaml:"web" mapstructure:"web"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Session  SessionConfig  `yaml:"session" mapstructure:"session"`
	KeyPool  KeyPoolConfig  `yaml:"key_pool" mapstructure:"key_pool"`
	Access   AccessConfig   `yaml:"access" mapstructure:"access"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
}

// ServerConfig 长连接服务监听配置
type ServerConfig struct {
	IP   string `yaml:"ip" mapstructure:"ip" validate:"required,ip"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level   string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Dir     string `yaml:"log_dir" mapstructure:"log_dir"`
	File    string `yaml:"log_file" mapstructure:"log_file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

// WebConfig HTTP 管理接口配置
type WebConfig struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	Port         int      `yaml:"port" mapstructure:"port"`
	StaticDir    string   `yaml:"static_dir" mapstructure:"static_dir"`
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver" mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN          string        `yaml:"dsn" mapstructure:"dsn" validate:"required"`
	MaxOpenConns int           `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLife  time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	// Secret 连接/心跳签名共享密钥
	Secret string `yaml:"secret" mapstructure:"secret" validate:"required"`
	// UsageWindow 限时签名允许的时间偏差
	UsageWindow time.Duration `yaml:"usage_window" mapstructure:"usage_window"`
	Admin       AdminConfig   `yaml:"admin" mapstructure:"admin"`
	Store       StoreConfig   `yaml:"store" mapstructure:"store"`
}

type AdminConfig struct {
	Username  string        `yaml:"username" mapstructure:"username" validate:"required"`
	Password  string        `yaml:"password" mapstructure:"password" validate:"required"`
	JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret" validate:"required"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

type StoreConfig struct {
	Type    string          `yaml:"type" mapstructure:"type" validate:"omitempty,oneof=memory sqlite database redis"`
	Expiry  time.Duration   `yaml:"expiry" mapstructure:"expiry"`
	Cleanup time.Duration   `yaml:"cleanup" mapstructure:"cleanup"`
	Redis   AuthRedisStore  `yaml:"redis,omitempty" mapstructure:"redis"`
	Memory  AuthMemoryStore `yaml:"memory,omitempty" mapstructure:"memory"`
}

type AuthRedisStore struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type AuthMemoryStore struct {
	Cleanup time.Duration `yaml:"cleanup" mapstructure:"cleanup"`
}

// SessionConfig 长连接会话与心跳配置
type SessionConfig struct {
	Path              string        `yaml:"path" mapstructure:"path" validate:"required,startswith=/"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ReadLimit         int64         `yaml:"read_limit" mapstructure:"read_limit" validate:"gte=0"`
	Version           string        `yaml:"version" mapstructure:"version"`
}

type KeyPoolConfig struct {
	Seed         bool           `yaml:"seed" mapstructure:"seed"`
	ProbeTimeout time.Duration  `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	Providers    []ProviderSeed `yaml:"providers" mapstructure:"providers" validate:"dive"`
}

// ProviderSeed 首次启动时写入的供应商及其密钥
type ProviderSeed struct {
	Name        string   `yaml:"name" mapstructure:"name" validate:"required"`
	DisplayName string   `yaml:"display_name" mapstructure:"display_name"`
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Priority    int      `yaml:"priority" mapstructure:"priority"`
	MaxClients  int      `yaml:"max_clients" mapstructure:"max_clients" validate:"gte=-1"`
	Keys        []string `yaml:"keys" mapstructure:"keys"`
}

// AccessConfig 模型调用额度默认值
type AccessConfig struct {
	UsageLimit int `yaml:"usage_limit" mapstructure:"usage_limit" validate:"gte=0"`
	ResetDays  int `yaml:"reset_days" mapstructure:"reset_days" validate:"gte=1"`
}

// EventsConfig 审计事件总线与保留策略
type EventsConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers" validate:"gte=0"`
	// Retention 为 0 时永久保留
	Retention     time.Duration `yaml:"retention" mapstructure:"retention" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Path      string `yaml:"path" mapstructure:"path"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}
