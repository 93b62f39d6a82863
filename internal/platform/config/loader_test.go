package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, ".config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 9000
log:
  log_level: "debug"
  log_dir: "/tmp/logs"
  log_file: "test.log"
web:
  enabled: true
  port: 9001
session:
  heartbeat_interval: 15s
key_pool:
  providers:
    - name: deepseek
      base_url: https://api.deepseek.com
      priority: 95
      max_clients: 3
      keys: ["sk-1", "sk-2"]
`

	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	result, err := NewLoader().WithDotEnv(false).WithPath(configFile).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := result.Config

	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected server IP 127.0.0.1, got %s", cfg.Server.IP)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected server port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Session.HeartbeatInterval != 15*time.Second {
		t.Errorf("expected heartbeat interval 15s, got %s", cfg.Session.HeartbeatInterval)
	}
	if cfg.Session.Path != "/ws" {
		t.Errorf("expected default session path to survive merge, got %q", cfg.Session.Path)
	}
	if len(cfg.KeyPool.Providers) != 1 || len(cfg.KeyPool.Providers[0].Keys) != 2 {
		t.Errorf("unexpected providers: %+v", cfg.KeyPool.Providers)
	}
	if result.Path != configFile {
		t.Errorf("expected path %s, got %s", configFile, result.Path)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("SENWEAVER_SERVER_PORT", "9100")
	t.Setenv("SENWEAVER_AUTH_SECRET", "from-env")

	result, err := NewLoader().WithDotEnv(false).WithPath("").Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if result.Config.Server.Port != 9100 {
		t.Errorf("expected env port 9100, got %d", result.Config.Server.Port)
	}
	if result.Config.Auth.Secret != "from-env" {
		t.Errorf("expected env secret, got %q", result.Config.Auth.Secret)
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid web port",
			mutate:  func(c *Config) { c.Web.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "shared port",
			mutate:  func(c *Config) { c.Web.Port = c.Server.Port },
			wantErr: true,
		},
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: true,
		},
		{
			name:    "redis store without addr",
			mutate:  func(c *Config) { c.Auth.Store.Type = "redis" },
			wantErr: true,
		},
		{
			name:    "capacity below unlimited",
			mutate:  func(c *Config) { c.KeyPool.Providers[0].MaxClients = -2 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.validateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
