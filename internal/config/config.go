package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	StoreDriver     string
	DatabaseURL     string
	SQLitePath      string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	AnalyzerModel   string
	SlackBotToken   string
	SlackChannel    string
	APIToken        string
	PolicyPath      string
	RedisURL        string

	RetentionSchedule string
	SessionRetention  time.Duration

	AnalyzerTimeout   time.Duration
	GenerationTimeout time.Duration
}

func Load() Config {
	return Config{
		Port:              envInt("DIAGNOSTICIAN_PORT", 8760),
		NatsURL:           envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:         envStr("NATS_TOKEN", ""),
		StoreDriver:       envStr("STORE_DRIVER", "postgres"),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		SQLitePath:        envStr("SQLITE_PATH", "diagnostician.db"),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey:   envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    envStr("DIAGNOSTICIAN_MODEL", "claude-sonnet-4-20250514"),
		AnalyzerModel:     envStr("ANALYZER_MODEL", "claude-3-5-haiku-20241022"),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:      envStr("SLACK_REVIEW_CHANNEL", ""),
		APIToken:          envStr("DIAGNOSTICIAN_API_TOKEN", ""),
		PolicyPath:        envStr("POLICY_PATH", ""),
		RedisURL:          envStr("REDIS_URL", ""),
		RetentionSchedule: envStr("RETENTION_SCHEDULE", "@daily"),
		SessionRetention:  envDuration("SESSION_RETENTION", 0),
		AnalyzerTimeout:   envDuration("ANALYZER_TIMEOUT", 8*time.Second),
		GenerationTimeout: envDuration("GENERATION_TIMEOUT", 25*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
