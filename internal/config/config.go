package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Addr           string        `toml:"addr"`
	DatabaseDriver string        `toml:"database-driver"`
	DatabaseURL    string        `toml:"database-url"`
	MigrationsDir  string        `toml:"migrations-dir"`
	CORSOrigin     string        `toml:"cors-origin"`
	RedisURL       string        `toml:"redis-url"`
	EditSessionTTL time.Duration `toml:"-"`
	ReposDir       string        `toml:"repos-dir"`
	MeiliURL       string        `toml:"meili-url"`
	MeiliMasterKey string        `toml:"meili-master-key"`
	// Direct position-shift tool bounds
	ShiftDeltaMin int `toml:"shift-delta-min"`
	ShiftDeltaMax int `toml:"shift-delta-max"`
	// Logging
	LogLevel string `toml:"log-level"`
	LogFile  string `toml:"log-file"`

	EditSessionTTLSeconds int `toml:"edit-session-ttl-seconds"`
}

func Default() Config {
	return Config{
		Addr:                  ":8787",
		DatabaseDriver:        "sqlite",
		DatabaseURL:           "file:qualedit.db",
		MigrationsDir:         "./db/migrations",
		CORSOrigin:            "*",
		EditSessionTTLSeconds: 43200,
		ShiftDeltaMin:         -500,
		ShiftDeltaMax:         500,
		LogLevel:              "info",
	}
}

// Load applies defaults, then the optional TOML file named by QUALEDIT_CONFIG,
// then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("QUALEDIT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.DatabaseDriver = getenv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.CORSOrigin = getenv("CORS_ORIGIN", cfg.CORSOrigin)
	// Redis, repos and Meilisearch are all optional; empty disables them.
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.ReposDir = getenv("REPOS_DIR", cfg.ReposDir)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.EditSessionTTLSeconds = getenvInt("EDIT_SESSION_TTL_SECONDS", cfg.EditSessionTTLSeconds)
	cfg.ShiftDeltaMin = getenvInt("SHIFT_DELTA_MIN", cfg.ShiftDeltaMin)
	cfg.ShiftDeltaMax = getenvInt("SHIFT_DELTA_MAX", cfg.ShiftDeltaMax)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getenv("LOG_FILE", cfg.LogFile)

	if cfg.ShiftDeltaMin > cfg.ShiftDeltaMax {
		cfg.ShiftDeltaMin, cfg.ShiftDeltaMax = cfg.ShiftDeltaMax, cfg.ShiftDeltaMin
	}
	cfg.EditSessionTTL = time.Duration(cfg.EditSessionTTLSeconds) * time.Second
	return cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
