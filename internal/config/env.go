package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the configuration from the environment. When envFile is set
// and exists, its values are loaded first; variables already present in
// the environment win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	return &Config{
		Service: &ServiceConfig{
			Name: getEnv("SERVICE_NAME", "aima-client"),
			Env:  getEnv("SERVICE_ENV", "development"),
		},
		API: &APIConfig{
			BaseURL: getEnv("API_BASE_URL", "http://localhost:8000/api"),
			Timeout: getEnvDuration("API_TIMEOUT", 30*time.Second),
		},
		Channel: &ChannelConfig{
			URL:                  getEnv("WS_URL", "ws://localhost:8000/ws"),
			ReconnectInterval:    getEnvDuration("WS_RECONNECT_INTERVAL", 3*time.Second),
			MaxReconnectAttempts: getEnvInt("WS_MAX_RECONNECT_ATTEMPTS", 5),
			HandshakeTimeout:     getEnvDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			SendBuffer:           getEnvInt("WS_SEND_BUFFER", 256),
			ReadLimit:            int64(getEnvInt("WS_READ_LIMIT", 512*1024)),
		},
		Auth: &AuthConfig{
			Token:    getEnv("AUTH_TOKEN", ""),
			Secret:   getEnv("JWT_SECRET", ""),
			Subject:  getEnv("AUTH_SUBJECT", "dashboard"),
			TokenTTL: getEnvDuration("AUTH_TOKEN_TTL", time.Hour),
		},
		Redis: &RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE", 2),
			PingTimeout:  getEnvDuration("REDIS_PING_TIMEOUT", 2*time.Second),
			SnapshotTTL:  getEnvDuration("REDIS_SNAPSHOT_TTL", 24*time.Hour),
			JournalLen:   int64(getEnvInt("REDIS_JOURNAL_LEN", 1000)),
		},
		Tracer: &TracerConfig{
			Address: getEnv("OTEL_EXPORTER_ADDRESS", ""),
		},
		Logger: &LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "TEXT"),
		},
		Status: &StatusConfig{
			Addr: getEnv("STATUS_ADDR", ""),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config - invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config - invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
