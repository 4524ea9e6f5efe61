package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Auth            AuthConfig            `mapstructure:"auth"`
	CORS            CORSConfig            `mapstructure:"cors"`
	RateLimit       RateLimitConfig       `mapstructure:"rate_limit"`
	Redis           RedisConfig           `mapstructure:"redis"`
	Supabase        SupabaseConfig        `mapstructure:"supabase"`
	Queue           QueueConfig           `mapstructure:"queue"`
	Alerts          AlertsConfig          `mapstructure:"alerts"`
	Sessions        SessionsConfig        `mapstructure:"sessions"`
	Stream          StreamConfig          `mapstructure:"stream"`
	ViewerRateLimit ViewerRateLimitConfig `mapstructure:"viewer_rate_limit"`
	Reaper          ReaperConfigYAML      `mapstructure:"reaper"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds per-IP HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupabaseConfig holds Supabase project settings.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// QueueConfig holds async queue settings.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
}

// AlertsConfig holds the notification throttle policy.
type AlertsConfig struct {
	Cooldown      time.Duration `mapstructure:"cooldown"`
	DismissAfter  time.Duration `mapstructure:"dismiss_after"`
	Icon          string        `mapstructure:"icon"`
	EligibleRoles []string      `mapstructure:"eligible_roles"`
	TitleTemplate string        `mapstructure:"title_template"`
}

// SessionsConfig holds viewer session registry settings.
type SessionsConfig struct {
	MaxSessions   int           `mapstructure:"max_sessions"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	PromptTimeout time.Duration `mapstructure:"prompt_timeout"`
}

// StreamConfig holds per-session Redis event stream settings.
type StreamConfig struct {
	MaxLen int64         `mapstructure:"max_len"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ViewerRateLimitConfig holds per-viewer alert cap settings. Zero disables the cap.
type ViewerRateLimitConfig struct {
	MaxPerHour int `mapstructure:"max_per_hour"`
}

// ReaperConfigYAML holds stale alert reaper settings (durations as seconds for YAML/env compat).
type ReaperConfigYAML struct {
	IntervalSec       int `mapstructure:"interval_sec"`
	StaleThresholdSec int `mapstructure:"stale_threshold_sec"`
	BatchSize         int `mapstructure:"batch_size"`
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the CHATALERT_ prefix and underscore separators.
// Example: CHATALERT_ALERTS_COOLDOWN=5m overrides alerts.cooldown in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	// Environment variable settings
	v.SetEnvPrefix("CHATALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional: env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.service_key", "")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Viewer-ID", "X-Viewer-Role", "X-Request-ID"})
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("alerts.cooldown", 10*time.Minute)
	v.SetDefault("alerts.dismiss_after", 5*time.Second)
	v.SetDefault("alerts.icon", "/favicon.ico")
	v.SetDefault("alerts.eligible_roles", []string{"admin", "super_admin"})
	v.SetDefault("alerts.title_template", "New message from {{.Sender}}")
	v.SetDefault("sessions.max_sessions", 10000)
	v.SetDefault("sessions.idle_ttl", 30*time.Minute)
	v.SetDefault("sessions.prompt_timeout", 2*time.Minute)
	v.SetDefault("stream.max_len", 200)
	v.SetDefault("stream.ttl", time.Hour)
	v.SetDefault("viewer_rate_limit.max_per_hour", 60)
	v.SetDefault("reaper.interval_sec", 60)
	v.SetDefault("reaper.stale_threshold_sec", 300) // 5 minutes
	v.SetDefault("reaper.batch_size", 50)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Auth.APIKeys = trimList(cfg.Auth.APIKeys)
	cfg.Alerts.EligibleRoles = trimList(cfg.Alerts.EligibleRoles)

	if cfg.Alerts.Cooldown <= 0 {
		return nil, fmt.Errorf("alerts.cooldown must be positive, got %s", cfg.Alerts.Cooldown)
	}
	if len(cfg.Alerts.EligibleRoles) == 0 {
		return nil, fmt.Errorf("alerts.eligible_roles must not be empty")
	}

	return &cfg, nil
}

// trimList trims entries and drops empty ones. Viper already splits
// comma-separated env values into slices but keeps the spaces.
func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
