package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = "shopsync"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App        AppConfig
	Remote     RemoteConfig
	Sync       SyncConfig
	LocalStore LocalStoreConfig
	Server     ServerConfig
	Redis      RedisConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Sync.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPSYNC_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"SHOPSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type RemoteConfig struct {
	BaseURL   string        `envconfig:"SHOPSYNC_REMOTE_BASE_URL" default:"http://localhost:8080"`
	Timeout   time.Duration `envconfig:"SHOPSYNC_REMOTE_TIMEOUT" default:"10s"`
	AuthToken string        `envconfig:"SHOPSYNC_REMOTE_AUTH_TOKEN"`
}

type SyncConfig struct {
	Backoff           []time.Duration `envconfig:"SHOPSYNC_SYNC_BACKOFF" default:"250ms,1s,3s"`
	RefreshCooldown   time.Duration   `envconfig:"SHOPSYNC_SYNC_REFRESH_COOLDOWN" default:"30s"`
	ProtectionFeeRate string          `envconfig:"SHOPSYNC_PROTECTION_FEE_RATE" default:"0.02"`
}

// FeeRate returns the protection fee rate as a decimal fraction of the
// protected subtotal.
func (s SyncConfig) FeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.ProtectionFeeRate))
	if err != nil || rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}

func (s SyncConfig) validate() error {
	if len(s.Backoff) == 0 {
		return fmt.Errorf("sync backoff schedule must contain at least one delay")
	}
	for _, delay := range s.Backoff {
		if delay <= 0 {
			return fmt.Errorf("sync backoff delays must be positive, got %s", delay)
		}
	}
	if s.RefreshCooldown < 0 {
		return fmt.Errorf("refresh cooldown cannot be negative")
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(s.ProtectionFeeRate)); err != nil {
		return fmt.Errorf("invalid protection fee rate %q: %w", s.ProtectionFeeRate, err)
	}
	return nil
}

type LocalStoreConfig struct {
	Path string `envconfig:"SHOPSYNC_LOCAL_STORE_PATH" default:".shopsync/cart.json"`
}

type ServerConfig struct {
	Port            string        `envconfig:"SHOPSYNC_SERVER_PORT" default:"8080"`
	CORSOrigins     []string      `envconfig:"SHOPSYNC_SERVER_CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHOPSYNC_SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL  time.Duration `envconfig:"SHOPSYNC_SERVER_IDEMPOTENCY_TTL" default:"24h"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPSYNC_REDIS_URL"`
	Address      string        `envconfig:"SHOPSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis backend has been configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}
