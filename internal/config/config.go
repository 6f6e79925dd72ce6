// Package config loads runtime settings from the environment (optionally
// seeded from a .env file) and holds the service's tunable constants.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings read at startup.
type Config struct {
	HTTPAddr string

	DBDriver    string // "postgres" or "sqlite"
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	TelegramToken       string
	TelegramStaffChatID int64
	NotifyLang          string

	SendLimit       int
	SendWindow      time.Duration
	IdleRevert      time.Duration
	ShutdownTimeout time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: no .env file loaded, using process environment")
	}

	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		DBDriver:      getEnv("DB_DRIVER", "postgres"),
		DatabaseURL:   getEnv("DATABASE_URL", "host=localhost user=user password=password dbname=supportchat port=5432 sslmode=disable"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		NotifyLang:    getEnv("NOTIFY_LANG", "en"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SendLimit, err = getInt("SEND_RATE_LIMIT", DefaultSendLimit); err != nil {
		return nil, err
	}
	if cfg.SendWindow, err = getDuration("SEND_RATE_WINDOW", DefaultSendWindow); err != nil {
		return nil, err
	}
	if cfg.IdleRevert, err = getDuration("HANDOFF_IDLE_REVERT", DefaultIdleRevert); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if v := os.Getenv("TELEGRAM_STAFF_CHAT_ID"); v != "" {
		if cfg.TelegramStaffChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_STAFF_CHAT_ID: %w", err)
		}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
