package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the chat engine.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Chat         ChatConfig
	Stream       StreamConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer-token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// ChatConfig tunes the live-chat routing engine.
type ChatConfig struct {
	AutoAssignDelaySeconds int
	SweepIntervalSeconds   int
	SendBufferSize         int
	PingPeriodSeconds      int
	PongWaitSeconds        int
	WriteTimeoutSeconds    int
}

// StreamConfig points the lifecycle event firehose at Kafka. Empty brokers
// disable publishing.
type StreamConfig struct {
	Brokers []string
	Topic   string
}

// NotificationConfig holds outbound notification settings.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-chat-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8090"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Chat: ChatConfig{
			AutoAssignDelaySeconds: getEnvAsInt("CHAT_AUTO_ASSIGN_DELAY_SECONDS", 30),
			SweepIntervalSeconds:   getEnvAsInt("CHAT_SWEEP_INTERVAL_SECONDS", 60),
			SendBufferSize:         getEnvAsInt("CHAT_SEND_BUFFER_SIZE", 256),
			PingPeriodSeconds:      getEnvAsInt("CHAT_PING_PERIOD_SECONDS", 54),
			PongWaitSeconds:        getEnvAsInt("CHAT_PONG_WAIT_SECONDS", 60),
			WriteTimeoutSeconds:    getEnvAsInt("CHAT_WRITE_TIMEOUT_SECONDS", 10),
		},
		Stream: StreamConfig{
			Brokers: splitList(os.Getenv("STREAM_KAFKA_BROKERS")),
			Topic:   getEnv("STREAM_KAFKA_TOPIC", "chat.lifecycle"),
		},
		Notification: NotificationConfig{
			EmailFrom:  os.Getenv("NOTIFY_EMAIL_FROM"),
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AutoAssignDelay is the fixed per-tenant wait before the scheduler claims a
// session on behalf of the least-loaded online agent.
func (c ChatConfig) AutoAssignDelay() time.Duration {
	if c.AutoAssignDelaySeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AutoAssignDelaySeconds) * time.Second
}

// SweepInterval is the period of the requeue sweeper.
func (c ChatConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// PingPeriod is the websocket keepalive interval.
func (c ChatConfig) PingPeriod() time.Duration {
	if c.PingPeriodSeconds <= 0 {
		return 54 * time.Second
	}
	return time.Duration(c.PingPeriodSeconds) * time.Second
}

// PongWait is how long a connection may stay silent before it is dropped.
func (c ChatConfig) PongWait() time.Duration {
	if c.PongWaitSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.PongWaitSeconds) * time.Second
}

// WriteTimeout bounds a single websocket write.
func (c ChatConfig) WriteTimeout() time.Duration {
	if c.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// Enabled reports whether lifecycle events should be published to Kafka.
func (s StreamConfig) Enabled() bool {
	return len(s.Brokers) > 0
}

func splitList(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
