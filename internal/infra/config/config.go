package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Session    SessionSettings    `mapstructure:"session"`
	Monitor    MonitorSettings    `mapstructure:"monitor"`
	Validation ValidationSettings `mapstructure:"validation"`
	Auth       AuthSettings       `mapstructure:"auth"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	Schema            string        `mapstructure:"schema"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection, TLS and key namespaces
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
	UserLockPrefix  string `mapstructure:"user_lock_prefix"`
	LockdownPrefix  string `mapstructure:"lockdown_prefix"`
}

// KafkaSettings configures the producer and the change-data-capture consumer group
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	Async         bool     `mapstructure:"async"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// RateLimitSettings configures the session endpoint sliding window
type RateLimitSettings struct {
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	SessionMaxRequests int           `mapstructure:"session_max_requests"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// SessionSettings tunes rotation and concurrency enforcement
type SessionSettings struct {
	TTL                   time.Duration `mapstructure:"ttl"`
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
	LockEnabled           bool          `mapstructure:"lock_enabled"`
}

// MonitorSettings configures the admin security monitor
type MonitorSettings struct {
	Enabled         bool          `mapstructure:"enabled"`
	PrivilegedRoles []string      `mapstructure:"privileged_roles"`
	LockdownTTL     time.Duration `mapstructure:"lockdown_ttl"`
}

// ValidationSettings configures file upload defaults
type ValidationSettings struct {
	MaxFileSize      int64    `mapstructure:"max_file_size"`
	AllowedFileTypes []string `mapstructure:"allowed_file_types"`
}

// AuthSettings configures bearer token verification for the admin API
type AuthSettings struct {
	JWTSecret    string   `mapstructure:"jwt_secret"`
	Issuer       string   `mapstructure:"issuer"`
	AllowedRoles []string `mapstructure:"allowed_roles"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SESSEC")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.schema",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.rate_limit_prefix",
		"redis.user_lock_prefix",
		"redis.lockdown_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.session_max_requests",
		"session.ttl",
		"session.max_concurrent_sessions",
		"session.lock_ttl",
		"session.lock_enabled",
		"monitor.enabled",
		"monitor.privileged_roles",
		"monitor.lockdown_ttl",
		"validation.max_file_size",
		"validation.allowed_file_types",
		"auth.jwt_secret",
		"auth.issuer",
		"auth.allowed_roles",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "session-security")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"*"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "sessec")
	v.SetDefault("postgres.password", "sessec_password")
	v.SetDefault("postgres.database", "sessec")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.schema", "sessec")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.rate_limit_prefix", "sessec:rl")
	v.SetDefault("redis.user_lock_prefix", "sessec:lock:user")
	v.SetDefault("redis.lockdown_prefix", "sessec:lockdown")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "sessec")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "sessec-admin-monitor")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "session-security")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.session_max_requests", 120)

	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.max_concurrent_sessions", 5)
	v.SetDefault("session.lock_ttl", "5s")
	v.SetDefault("session.lock_enabled", true)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.privileged_roles", []string{"admin", "super_admin"})
	v.SetDefault("monitor.lockdown_ttl", "1h")

	v.SetDefault("validation.max_file_size", 5*1024*1024)
	v.SetDefault("validation.allowed_file_types", []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"application/pdf",
		"text/plain",
	})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.allowed_roles", []string{"admin", "service_role"})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "SESSEC_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
