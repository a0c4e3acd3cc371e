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

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Bridge    BridgeConfig
	Headless  HeadlessConfig
	SSE       SSEConfig
	Auth      AuthConfig
	Notifier  NotifierConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	AllowedOrigins []string
	// IngestRateLimit is the number of producer enqueue requests allowed per
	// producer per minute. Zero disables the limit.
	IngestRateLimit int
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StoreConfig holds pending store configuration
type StoreConfig struct {
	MaxPendingPerName int
}

// BridgeConfig holds delivery model configuration
type BridgeConfig struct {
	Platform      string
	SignalTimeout time.Duration
}

// HeadlessConfig holds headless service configuration
type HeadlessConfig struct {
	Enabled     bool
	TaskTimeout time.Duration
}

// SSEConfig holds runtime stream configuration
type SSEConfig struct {
	HeartbeatInterval        time.Duration
	ConnectionTimeout        time.Duration
	MaxConnectionsPerRuntime int
}

// AuthConfig holds token configuration
type AuthConfig struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
}

// NotifierConfig holds out-of-process notifier configuration. Empty addresses
// disable the transport.
type NotifierConfig struct {
	RedisAddr    string
	RedisChannel string
	NATSURL      string
	NATSSubject  string
}

// SchedulerConfig holds periodic job intervals
type SchedulerConfig struct {
	SSECleanupInterval   time.Duration
	StatsRefreshInterval time.Duration
	RateLimitCleanup     time.Duration
}

// ErrMissingSecret is returned by Validate when AUTH_SECRET is unset.
var ErrMissingSecret = errors.New("config: AUTH_SECRET is required")

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the environment. Variables already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			AllowedOrigins:  getListEnv("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			IngestRateLimit: getIntEnv("SERVER_INGEST_RATE_LIMIT", 600),
		},
		Store: StoreConfig{
			MaxPendingPerName: getIntEnv("STORE_MAX_PENDING_PER_NAME", 1000),
		},
		Bridge: BridgeConfig{
			Platform:      getEnv("BRIDGE_PLATFORM", "android"),
			SignalTimeout: getDurationEnv("BRIDGE_SIGNAL_TIMEOUT", 2*time.Second),
		},
		Headless: HeadlessConfig{
			Enabled:     getBoolEnv("HEADLESS_ENABLED", true),
			TaskTimeout: getDurationEnv("HEADLESS_TASK_TIMEOUT", 60*time.Second),
		},
		SSE: SSEConfig{
			HeartbeatInterval:        getDurationEnv("SSE_HEARTBEAT_INTERVAL", 30*time.Second),
			ConnectionTimeout:        getDurationEnv("SSE_CONNECTION_TIMEOUT", time.Hour),
			MaxConnectionsPerRuntime: getIntEnv("SSE_MAX_CONNECTIONS_PER_RUNTIME", 4),
		},
		Auth: AuthConfig{
			Secret:      getEnv("AUTH_SECRET", ""),
			TokenExpiry: getDurationEnv("AUTH_TOKEN_EXPIRY", 24*time.Hour),
			Issuer:      getEnv("AUTH_ISSUER", "event-bridge"),
		},
		Notifier: NotifierConfig{
			RedisAddr:    getEnv("NOTIFIER_REDIS_ADDR", ""),
			RedisChannel: getEnv("NOTIFIER_REDIS_CHANNEL", "bridge:pending_events"),
			NATSURL:      getEnv("NOTIFIER_NATS_URL", ""),
			NATSSubject:  getEnv("NOTIFIER_NATS_SUBJECT", "bridge.pending_events"),
		},
		Scheduler: SchedulerConfig{
			SSECleanupInterval:   getDurationEnv("SCHEDULER_SSE_CLEANUP_INTERVAL", time.Minute),
			StatsRefreshInterval: getDurationEnv("SCHEDULER_STATS_REFRESH_INTERVAL", 15*time.Second),
			RateLimitCleanup:     getDurationEnv("SCHEDULER_RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
	}
}

// Validate reports configuration the server cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, ErrMissingSecret)
	}
	if c.Store.MaxPendingPerName <= 0 {
		errs = append(errs, fmt.Errorf("config: STORE_MAX_PENDING_PER_NAME must be positive, got %d", c.Store.MaxPendingPerName))
	}
	if c.Headless.TaskTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: HEADLESS_TASK_TIMEOUT must be positive, got %s", c.Headless.TaskTimeout))
	}
	if c.SSE.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: SSE_HEARTBEAT_INTERVAL must be positive, got %s", c.SSE.HeartbeatInterval))
	}
	if c.SSE.ConnectionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: SSE_CONNECTION_TIMEOUT must be positive, got %s", c.SSE.ConnectionTimeout))
	}
	return errors.Join(errs...)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns a boolean environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Values are Go durations ("90s", "5m"); a bare integer is read as seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getListEnv returns a comma separated environment variable or default
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
