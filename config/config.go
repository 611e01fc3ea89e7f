// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL,required"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"8"`
	JWTSecret      string `env:"JWT_SECRET,required"`
	DocumentBucket string `env:"DOCUMENT_BUCKET" envDefault:"contractor-documents"`
	DocumentDir    string `env:"DOCUMENT_DIR" envDefault:"./documents"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Production reports whether the process runs with production logging
// and defaults.
func (c Config) Production() bool {
	return c.Environment == "production"
}
