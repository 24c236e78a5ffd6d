package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Pending store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// PendingConfig selects and sizes the store holding messages for offline
// receivers.
type PendingConfig struct {
	Backend        string
	MaxPerReceiver int
	TTL            time.Duration
	SweepInterval  time.Duration
	// FlushTimeout bounds how long a connecting client may take to accept
	// its backlog before it is disconnected.
	FlushTimeout time.Duration
}

// RedisConfig locates the Redis server used by the redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds the token verification settings.
type AuthConfig struct {
	Secret  string
	Alg     string
	Timeout time.Duration
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the relay configuration. It is built once at startup and
// passed to the components that need it.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      RateLimitConfig
	Auth           AuthConfig
	Pending        PendingConfig
	Redis          RedisConfig
	Log            LogConfig
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Auth: AuthConfig{
			Alg:     "HS256",
			Timeout: 10 * time.Second,
		},
		Pending: PendingConfig{
			Backend:       BackendMemory,
			SweepInterval: time.Minute,
			FlushTimeout:  20 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Sanitize replaces missing or invalid values with defaults and returns the
// result. The receiver is not modified.
func (c Config) Sanitize() Config {
	def := defaultConfig()
	cfg := c
	cfg.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.Auth.Alg == "" {
		cfg.Auth.Alg = def.Auth.Alg
	}
	if cfg.Auth.Timeout <= 0 {
		cfg.Auth.Timeout = def.Auth.Timeout
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Pending.Backend)) {
	case BackendRedis:
		cfg.Pending.Backend = BackendRedis
	default:
		cfg.Pending.Backend = BackendMemory
	}
	if cfg.Pending.MaxPerReceiver < 0 {
		cfg.Pending.MaxPerReceiver = 0
	}
	if cfg.Pending.TTL < 0 {
		cfg.Pending.TTL = 0
	}
	if cfg.Pending.SweepInterval <= 0 {
		cfg.Pending.SweepInterval = def.Pending.SweepInterval
	}
	if cfg.Pending.FlushTimeout <= 0 {
		cfg.Pending.FlushTimeout = def.Pending.FlushTimeout
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
	if cfg.Redis.DB < 0 {
		cfg.Redis.DB = 0
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or
// cannot be parsed.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	cfg.Auth.Secret = os.Getenv("JWT_SECRET")
	if alg := os.Getenv("JWT_ALG"); alg != "" {
		cfg.Auth.Alg = strings.ToUpper(strings.TrimSpace(alg))
	}
	if timeout := os.Getenv("AUTH_TIMEOUT"); timeout != "" {
		cfg.Auth.Timeout = parseDuration(timeout, cfg.Auth.Timeout)
	}

	if backend := os.Getenv("PENDING_BACKEND"); backend != "" {
		cfg.Pending.Backend = backend
	}
	if limit := os.Getenv("PENDING_MAX_PER_RECEIVER"); limit != "" {
		cfg.Pending.MaxPerReceiver = parseIntValue(limit, cfg.Pending.MaxPerReceiver)
	}
	if ttl := os.Getenv("PENDING_TTL"); ttl != "" {
		cfg.Pending.TTL = parseDuration(ttl, cfg.Pending.TTL)
	}
	if timeout := os.Getenv("PENDING_FLUSH_TIMEOUT"); timeout != "" {
		cfg.Pending.FlushTimeout = parseDuration(timeout, cfg.Pending.FlushTimeout)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil && parsed >= 0 {
			cfg.Redis.DB = parsed
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("90s", "5m") or a bare number
// of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
