package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8000,
		},
		Log: LogConfig{
			Level:   "info",
			Dir:     "data/logs",
			File:    "server.log",
			Console: true,
		},
		Web: WebConfig{
			Enabled:      true,
			Port:         8080,
			StaticDir:    "./web",
			AllowOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "data/senweaver.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Auth: AuthConfig{
			Secret:      "change-me",
			UsageWindow: 300 * time.Second,
			Admin: AdminConfig{
				Username:  "admin",
				Password:  "admin",
				JWTSecret: "change-me-too",
				TokenTTL:  24 * time.Hour,
			},
			Store: StoreConfig{
				Type:    "memory",
				Expiry:  24 * time.Hour,
				Cleanup: 10 * time.Minute,
				Redis: AuthRedisStore{
					Prefix: "senweaver:admin:",
				},
			},
		},
		Session: SessionConfig{
			Path:              "/ws",
			HeartbeatInterval: 60 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadLimit:         1 << 20,
			Version:           "1.0.0",
		},
		KeyPool: KeyPoolConfig{
			Seed:         true,
			ProbeTimeout: 15 * time.Second,
			Providers:    DefaultProviders(),
		},
		Access: AccessConfig{
			UsageLimit: 10000,
			ResetDays:  30,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "senweaver",
		},
		Events: EventsConfig{
			Workers:       4,
			Retention:     30 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// DefaultProviders 内置供应商，未配置密钥时只创建供应商记录
func DefaultProviders() []ProviderSeed {
	return []ProviderSeed{
		{Name: "openrouter", DisplayName: "OpenRouter", BaseURL: "https://openrouter.ai/api/v1", Priority: 100, MaxClients: 1},
		{Name: "deepseek", DisplayName: "DeepSeek", BaseURL: "https://api.deepseek.com", Priority: 95, MaxClients: 1},
		{Name: "alibailian", DisplayName: "阿里百炼", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Priority: 90, MaxClients: 1},
		{Name: "moonshotai", DisplayName: "Moonshot AI", BaseURL: "https://api.moonshot.cn/v1", Priority: 85, MaxClients: 1},
		{Name: "zai", DisplayName: "Z.AI", BaseURL: "https://api.zai.com/v1", Priority: 80, MaxClients: 1},
		{Name: "ownProvider", DisplayName: "自有服务", Priority: 50, MaxClients: 1},
	}
}
