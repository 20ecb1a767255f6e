// Package server provides configuration helpers that define runtime defaults,
// validation, and moderation parameters for the chat relay service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/modchat/relay/internal/moderation"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// RedisConfig holds the optional verdict cache settings. An empty Addr
// disables the cache entirely.
type RedisConfig struct {
	Addr string
	DB   int
	TTL  time.Duration
}

// Config holds the relay configuration, including the moderation endpoint
// settings and security controls. It is a plain value constructed once at
// startup and injected where needed.
type Config struct {
	Env            string
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	Moderation     moderation.Config
	Redis          RedisConfig
}

func defaultConfig() Config {
	return Config{
		Env:  "dev",
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Moderation: moderation.Config{
			URL:       "https://api-inference.huggingface.co/models/smilegate-ai/kor_unsmile",
			FlagLabel: "악플/욕설",
			Threshold: 0.7,
			Timeout:   10 * time.Second,
		},
		Redis: RedisConfig{
			TTL: time.Hour,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.Moderation.Threshold <= 0 || cfg.Moderation.Threshold >= 1 {
		cfg.Moderation.Threshold = 0.7
	}
	if cfg.Moderation.Timeout <= 0 {
		cfg.Moderation.Timeout = 10 * time.Second
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set, and
// repairs out-of-range values.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSecondsValue(interval, cfg.RateLimit.RefillInterval)
	}

	if url := os.Getenv("MODERATION_URL"); url != "" {
		cfg.Moderation.URL = url
	}
	cfg.Moderation.Token = os.Getenv("MODERATION_API_TOKEN")
	if label := os.Getenv("MODERATION_FLAG_LABEL"); label != "" {
		cfg.Moderation.FlagLabel = label
	}
	if threshold := os.Getenv("MODERATION_THRESHOLD"); threshold != "" {
		cfg.Moderation.Threshold = parseFloatValue(threshold, cfg.Moderation.Threshold)
	}
	if timeout := os.Getenv("MODERATION_TIMEOUT"); timeout != "" {
		cfg.Moderation.Timeout = parseSecondsValue(timeout, cfg.Moderation.Timeout)
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	if db := os.Getenv("REDIS_DB"); db != "" {
		cfg.Redis.DB = parseIntValue(db, cfg.Redis.DB)
	}
	if ttl := os.Getenv("VERDICT_CACHE_TTL"); ttl != "" {
		cfg.Redis.TTL = parseSecondsValue(ttl, cfg.Redis.TTL)
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

func parseFloatValue(value string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 && parsed < 1 {
		return parsed
	}
	return defaultValue
}

func parseSecondsValue(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
