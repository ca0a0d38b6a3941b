package config

import "time"

type Config struct {
	Service *ServiceConfig
	API     *APIConfig
	Channel *ChannelConfig
	Auth    *AuthConfig
	Redis   *RedisConfig
	Tracer  *TracerConfig
	Logger  *LoggerConfig
	Status  *StatusConfig
}

type ServiceConfig struct {
	Name string
	Env  string
}

// APIConfig points at the request/response side of the platform.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ChannelConfig configures the push connection and its retry policy.
type ChannelConfig struct {
	URL                  string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	SendBuffer           int
	ReadLimit            int64
}

type AuthConfig struct {
	Token    string
	Secret   string
	Subject  string
	TokenTTL time.Duration
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
	SnapshotTTL  time.Duration
	JournalLen   int64
}

// Enabled reports whether a Redis URL was configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

type TracerConfig struct {
	Address string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type StatusConfig struct {
	Addr string
}
