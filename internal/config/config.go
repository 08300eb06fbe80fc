package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/hunt.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// LiveBackend is "redis" for the shared live channel or "memory" to keep
	// the projection in process, which only suits a single instance.
	LiveBackend string `env:"LIVE_BACKEND" envDefault:"redis"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	LiveTimeout time.Duration `env:"LIVE_TIMEOUT" envDefault:"3s"`
	DueInterval time.Duration `env:"DUE_INTERVAL" envDefault:"1s"`

	// OperatorKeyHash is the bcrypt hash of the X-Operator-Key value.
	OperatorKeyHash string `env:"OPERATOR_KEY_HASH" envDefault:"$2a$10$trCdqP4npsbw0R1vQxVwXeT1HebzRmP01SXaNGPz1eSAZ7mpcL0Uu"`
	IdentitySecret  string `env:"IDENTITY_SECRET"`

	SeedDemo bool `env:"SEED_DEMO" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.LiveBackend != "redis" && cfg.LiveBackend != "memory" {
		return nil, fmt.Errorf("LIVE_BACKEND must be redis or memory, got %q", cfg.LiveBackend)
	}
	if cfg.DueInterval <= 0 {
		return nil, fmt.Errorf("DUE_INTERVAL must be positive")
	}
	return &cfg, nil
}
