package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	AllowedOrigin   string
	AppEnv          string
	DatabaseURL     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CacheTTLSeconds int
	TxTimeout       time.Duration
	AuthSecret      string
	LogLevel        string
	LogEncoding     string
}

// Load reads configuration from the environment. envFile, when set, is loaded
// first; otherwise a .env in the working directory is picked up if present.
// Variables already set in the environment always win.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		AppEnv:          strings.ToLower(getEnv("APP_ENV", "development")),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:  getInt("DB_MAX_OPEN_CONNS", 30, 1),
		DBMaxIdleConns:  getInt("DB_MAX_IDLE_CONNS", 8, 1),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getInt("REDIS_DB", 0, 0),
		CacheTTLSeconds: getInt("AVAILABILITY_CACHE_TTL_SECONDS", 30, 1),
		TxTimeout:       time.Duration(getInt("TX_TIMEOUT_SECONDS", 5, 1)) * time.Second,
		AuthSecret:      strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogEncoding:     getEnv("LOG_ENCODING", "json"),
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below min.
func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val < min {
		return fallback
	}
	return val
}
