package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nulzo/model-gateway/pkg/api"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Auth      AuthConfig       `mapstructure:"auth"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Health    HealthConfig     `mapstructure:"health"`
	Usage     UsageConfig      `mapstructure:"usage"`
	Reports   ReportsConfig    `mapstructure:"reports"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Upstream  UpstreamConfig   `mapstructure:"upstream"`
	Tracing   TracingConfig    `mapstructure:"tracing"`
	Providers []ProviderConfig `mapstructure:"providers" validate:"dive"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	Env             string        `mapstructure:"env" validate:"oneof=development production test"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	UpdateCheckURL  string        `mapstructure:"update_check_url"`
}

// IsDevelopment reports whether debug details may be exposed in responses.
func (s ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Keys []APIKeyConfig `mapstructure:"keys" validate:"dive"`
}

// APIKeyConfig binds a bearer token to a caller identity.
type APIKeyConfig struct {
	Key    string   `mapstructure:"key" validate:"required"`
	Caller string   `mapstructure:"caller" validate:"required,excludes=:"`
	Scopes []string `mapstructure:"scopes"`
}

type RateLimitConfig struct {
	// fixed window quota per caller, shared across instances through redis
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window"`

	// local per-ip burst guard
	IPRequestsPerSecond float64 `mapstructure:"ip_requests_per_second"`
	IPBurst             int     `mapstructure:"ip_burst"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type HealthConfig struct {
	Window         int           `mapstructure:"window" validate:"gte=1,gtefield=MinSamples"`
	MinSamples     int           `mapstructure:"min_samples" validate:"gte=1"`
	MinSuccessRate float64       `mapstructure:"min_success_rate" validate:"gte=0,lte=1"`
	MaxAvgLatency  time.Duration `mapstructure:"max_avg_latency"`
	SampleTTL      time.Duration `mapstructure:"sample_ttl" validate:"gte=0"` // zero keeps samples until displaced
}

type UsageConfig struct {
	RetentionDays int `mapstructure:"retention_days" validate:"gte=1"`
}

type ReportsConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=redis sqlite"`
	SQLiteDSN string `mapstructure:"sqlite_dsn"`
}

type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ReportInterval    time.Duration `mapstructure:"report_interval"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
}

type UpstreamConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	CatalogTimeout time.Duration `mapstructure:"catalog_timeout"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// ProviderConfig configures one upstream provider and its statically known models.
type ProviderConfig struct {
	ID      string            `mapstructure:"id" validate:"required"`
	Type    string            `mapstructure:"type" validate:"required"`
	Name    string            `mapstructure:"name"`
	APIKey  string            `mapstructure:"api_key"`
	BaseURL string            `mapstructure:"base_url"`
	Enabled bool              `mapstructure:"enabled"`
	Config  map[string]string `mapstructure:"config"`

	// Discover controls whether the provider's live model listing is merged into the catalog.
	Discover bool          `mapstructure:"discover"`
	Models   []ModelConfig `mapstructure:"models" validate:"dive"`
}

// ModelConfig carries what live listings lack: pricing and context length.
type ModelConfig struct {
	ID            string      `mapstructure:"id" validate:"required"`
	Name          string      `mapstructure:"name"`
	ContextLength int         `mapstructure:"context_length" validate:"gte=0"`
	Pricing       api.Pricing `mapstructure:"pricing"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	for i, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "ENV:") {
			envVar := strings.TrimPrefix(p.APIKey, "ENV:")
			val := os.Getenv(envVar)
			if val == "" {
				val = v.GetString(envVar)
			}
			cfg.Providers[i].APIKey = val
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Hour)
	v.SetDefault("rate_limit.ip_requests_per_second", 20.0)
	v.SetDefault("rate_limit.ip_burst", 40)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.default_ttl", time.Hour)

	v.SetDefault("health.window", 50)
	v.SetDefault("health.min_samples", 10)
	v.SetDefault("health.min_success_rate", 0.8)
	v.SetDefault("health.max_avg_latency", 30*time.Second)
	v.SetDefault("health.sample_ttl", 10*time.Minute)

	v.SetDefault("usage.retention_days", 30)

	v.SetDefault("reports.backend", "redis")
	v.SetDefault("reports.sqlite_dsn", "file:reports.db?cache=shared&_journal_mode=WAL&_busy_timeout=5000")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.refresh_interval", time.Hour)
	v.SetDefault("scheduler.sweep_interval", 6*time.Hour)
	v.SetDefault("scheduler.report_interval", 24*time.Hour)
	v.SetDefault("scheduler.retention_interval", 7*24*time.Hour)

	v.SetDefault("upstream.timeout", 120*time.Second)
	v.SetDefault("upstream.catalog_timeout", 10*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "model-gateway")
}
