package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"senweaver-server-go/internal/platform/errors"
)

// EnvPrefix 环境变量前缀，server.port 对应 SENWEAVER_SERVER_PORT
const EnvPrefix = "SENWEAVER"

// candidatePaths 未指定配置文件时依次查找
var candidatePaths = []string{".config.yaml", "config.yaml"}

// Loader reads the YAML config file over the built-in defaults and applies
// environment overrides.
type Loader struct {
	useDotEnv bool
	path      string
	validate  *validator.Validate
}

// NewLoader creates a loader that searches the working directory for a config file.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		validate:  validator.New(),
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the configuration file instead of searching for one.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load merges defaults, the config file (if any) and environment variables.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env 缺失时直接使用系统环境变量
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, "config.defaults", "failed to encode defaults", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Wrap(errors.KindConfig, "config.defaults", "failed to read defaults", err)
	}

	path := l.resolvePath()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.read", fmt.Sprintf("failed to read %s", path), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.KindConfig, "config.decode", "failed to decode config", err)
	}
	if err := l.validateConfig(cfg); err != nil {
		return nil, err
	}

	origin := path
	if origin == "" {
		origin = "defaults"
	}
	return &Result{Config: cfg, Path: origin}, nil
}

func (l *Loader) resolvePath() string {
	if l.path != "" {
		return l.path
	}
	for _, candidate := range candidatePaths {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func (l *Loader) validateConfig(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return errors.Wrap(errors.KindConfig, "config.validate", "invalid configuration", err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.Newf(errors.KindConfig, "config.validate", "server port %d out of range", cfg.Server.Port)
	}
	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return errors.Newf(errors.KindConfig, "config.validate", "web port %d out of range", cfg.Web.Port)
		}
		if cfg.Web.Port == cfg.Server.Port {
			return errors.Newf(errors.KindConfig, "config.validate", "web and server share port %d", cfg.Web.Port)
		}
	}
	if cfg.Auth.Store.Type == "redis" && cfg.Auth.Store.Redis.Addr == "" {
		return errors.New(errors.KindConfig, "config.validate", "redis admin store requires auth.store.redis.addr")
	}
	return nil
}

// Encode renders cfg as YAML, used by `config init` and `config show`.
func Encode(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
