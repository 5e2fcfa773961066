package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string `env:"APP_PORT" envDefault:"8080"`
	Env                   string `env:"APP_ENV" envDefault:"dev"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	StoreDriver           string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseDSN           string `env:"DATABASE_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=chatbull port=5432 sslmode=disable TimeZone=UTC"`
	JWTSecret             string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"15"`
	RefreshTokenTTLDays   int    `env:"REFRESH_TOKEN_TTL_DAYS" envDefault:"7"`

	PrivateSessionTTL  time.Duration `env:"PRIVATE_SESSION_TTL" envDefault:"24h"`
	PrivateMessageTTL  time.Duration `env:"PRIVATE_MESSAGE_TTL" envDefault:"24h"`
	TTLSweepInterval   time.Duration `env:"TTL_SWEEP_INTERVAL" envDefault:"1m"`
	PrivateStartLimit  int           `env:"PRIVATE_START_LIMIT" envDefault:"5"`
	PrivateStartWindow time.Duration `env:"PRIVATE_START_WINDOW" envDefault:"15m"`

	RateWindow         time.Duration `env:"RATE_WINDOW" envDefault:"10s"`
	CallRingTimeout    time.Duration `env:"CALL_RING_TIMEOUT" envDefault:"45s"`
	CallConnectTimeout time.Duration `env:"CALL_CONNECT_TIMEOUT" envDefault:"60s"`
	WSPingInterval     time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WSPongWait         time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`

	// CORSOrigins 为空时 dev 环境放行所有来源，其他环境只放行同源。
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
}

// Load 从环境变量读取配置，缺省值见 envDefault 标签。
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate 在启动前拒绝明显错误的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT must not be empty")
	}
	switch cfg.StoreDriver {
	case "", "postgres":
		if cfg.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN must not be empty")
		}
	case "memory":
		if cfg.Env == "prod" {
			return errors.New("memory store is not allowed in prod")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	if cfg.AccessTokenTTLMinutes <= 0 || cfg.RefreshTokenTTLDays <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if cfg.PrivateSessionTTL <= 0 || cfg.PrivateMessageTTL <= 0 || cfg.TTLSweepInterval <= 0 {
		return errors.New("private TTLs and sweep interval must be positive")
	}
	if cfg.PrivateStartLimit <= 0 || cfg.PrivateStartWindow <= 0 || cfg.RateWindow <= 0 {
		return errors.New("rate limits must be positive")
	}
	if cfg.WSPingInterval >= cfg.WSPongWait {
		return errors.New("WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	}
	return nil
}
