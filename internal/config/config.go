package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names recognized by the gateway.
const (
	EnvPort                 = "PORT"
	EnvDatabaseURL          = "DATABASE_URL"
	EnvRedisURL             = "REDIS_URL"
	EnvAdminPassword        = "ADMIN_PASSWORD"
	EnvJWTSecret            = "JWT_SECRET"
	EnvProxyAPIKey          = "PROXY_API_KEY"
	EnvGlobalProxy          = "GLOBAL_PROXY"
	EnvCronSchedule         = "CRON_SCHEDULE"
	EnvCronTimezone         = "CRON_TIMEZONE"
	EnvChannelConcurrency   = "CHANNEL_CONCURRENCY"
	EnvGlobalConcurrency    = "MAX_GLOBAL_CONCURRENCY"
	EnvDetectionMinDelayMs  = "DETECTION_MIN_DELAY_MS"
	EnvDetectionMaxDelayMs  = "DETECTION_MAX_DELAY_MS"
	EnvLogRetentionDays     = "LOG_RETENTION_DAYS"
	EnvAutoDetectEnabled    = "AUTO_DETECT_ENABLED"
	EnvDetectPrompt         = "DETECT_PROMPT"
	EnvWorkerCount          = "WORKER_COUNT"
	EnvWebDAVURL            = "WEBDAV_URL"
	EnvWebDAVUsername       = "WEBDAV_USERNAME"
	EnvWebDAVPassword       = "WEBDAV_PASSWORD"
	EnvLogRetentionSchedule = "LOG_RETENTION_SCHEDULE"
)

// Defaults applied when the environment omits a value.
const (
	DefaultPort                 = 8080
	DefaultDatabaseURL          = "probegate.db"
	DefaultRedisURL             = "redis://127.0.0.1:6379/0"
	DefaultCronSchedule         = "0 */6 * * *"
	DefaultCronTimezone         = "UTC"
	DefaultChannelConcurrency   = 5
	DefaultGlobalConcurrency    = 30
	DefaultDetectionMinDelayMs  = 3000
	DefaultDetectionMaxDelayMs  = 5000
	DefaultLogRetentionDays     = 7
	DefaultDetectPrompt         = "1+1=2? yes or no"
	DefaultWorkerCount          = 8
	DefaultLogRetentionSchedule = "0 2 * * *"
	DefaultJWTExpiry            = 7 * 24 * time.Hour
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	Port        int
	DatabaseURL string
	RedisURL    string

	AdminPassword string
	JWTSecret     string
	JWTExpiry     time.Duration
	ProxyAPIKey   string
	GlobalProxy   string

	CronSchedule         string
	CronTimezone         string
	LogRetentionSchedule string
	LogRetentionDays     int
	AutoDetectEnabled    bool

	ChannelConcurrency   int
	MaxGlobalConcurrency int
	DetectionMinDelayMs  int
	DetectionMaxDelayMs  int
	DetectPrompt         string
	WorkerCount          int

	WebDAVURL      string
	WebDAVUsername string
	WebDAVPassword string
}

// LoadFromEnv loads app config from environment variables, reading an
// optional .env file first. Real environment values win over .env entries.
func LoadFromEnv() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		Port:                 envInt(EnvPort, DefaultPort),
		DatabaseURL:          envString(EnvDatabaseURL, DefaultDatabaseURL),
		RedisURL:             envString(EnvRedisURL, DefaultRedisURL),
		AdminPassword:        strings.TrimSpace(os.Getenv(EnvAdminPassword)),
		JWTSecret:            strings.TrimSpace(os.Getenv(EnvJWTSecret)),
		JWTExpiry:            DefaultJWTExpiry,
		ProxyAPIKey:          strings.TrimSpace(os.Getenv(EnvProxyAPIKey)),
		GlobalProxy:          strings.TrimSpace(os.Getenv(EnvGlobalProxy)),
		CronSchedule:         envString(EnvCronSchedule, DefaultCronSchedule),
		CronTimezone:         envString(EnvCronTimezone, DefaultCronTimezone),
		LogRetentionSchedule: envString(EnvLogRetentionSchedule, DefaultLogRetentionSchedule),
		LogRetentionDays:     envInt(EnvLogRetentionDays, DefaultLogRetentionDays),
		AutoDetectEnabled:    envBool(EnvAutoDetectEnabled, false),
		ChannelConcurrency:   envInt(EnvChannelConcurrency, DefaultChannelConcurrency),
		MaxGlobalConcurrency: envInt(EnvGlobalConcurrency, DefaultGlobalConcurrency),
		DetectionMinDelayMs:  envInt(EnvDetectionMinDelayMs, DefaultDetectionMinDelayMs),
		DetectionMaxDelayMs:  envInt(EnvDetectionMaxDelayMs, DefaultDetectionMaxDelayMs),
		DetectPrompt:         envString(EnvDetectPrompt, DefaultDetectPrompt),
		WorkerCount:          envInt(EnvWorkerCount, DefaultWorkerCount),
		WebDAVURL:            strings.TrimSpace(os.Getenv(EnvWebDAVURL)),
		WebDAVUsername:       strings.TrimSpace(os.Getenv(EnvWebDAVUsername)),
		WebDAVPassword:       os.Getenv(EnvWebDAVPassword),
	}

	if cfg.DetectionMinDelayMs < 0 || cfg.DetectionMaxDelayMs < cfg.DetectionMinDelayMs {
		return AppConfig{}, fmt.Errorf("invalid detection delay range [%d, %d]",
			cfg.DetectionMinDelayMs, cfg.DetectionMaxDelayMs)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	return cfg, nil
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
