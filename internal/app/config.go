package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:"127.0.0.1:8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	StorageBackend   string `envconfig:"STORAGE_BACKEND" default:"file"`
	StorageDir       string `envconfig:"STORAGE_DIR" default:"./var/securestore"`
	StorageNamespace string `envconfig:"STORAGE_NAMESPACE" default:"MI_CIUDAD_"`
	StorageSecret    string `envconfig:"STORAGE_SECRET" required:"true"`

	RedisAddr string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisTTL  time.Duration `envconfig:"REDIS_TTL" default:"0s"`

	SessionPersistSetUser bool          `envconfig:"SESSION_PERSIST_SET_USER" default:"false"`
	SessionPersistTimeout time.Duration `envconfig:"SESSION_PERSIST_TIMEOUT" default:"5s"`

	GateRestoreTimeout time.Duration `envconfig:"GATE_RESTORE_TIMEOUT" default:"10s"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.StorageSecret == "" {
		return nil, errors.New("storage secret must be provided")
	}
	switch cfg.StorageBackend {
	case "file", "redis", "memory":
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "file" && cfg.StorageDir == "" {
		return nil, errors.New("storage dir must be provided for the file backend")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// UsesRedis reports whether the secure store is backed by Redis.
func (c *Config) UsesRedis() bool {
	return c != nil && c.StorageBackend == "redis"
}
