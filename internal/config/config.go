package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Service configuration
	ServiceHost         string
	ServicePort         string
	InternalServicePort string

	// Telegram configuration
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramSecretToken    string
	TelegramAllowedChatIDs []int64
	TelegramAllowedUserIDs []int64

	// OpenAI configuration
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Pipeline configuration
	ExtractionMaxRetries int
	ExtractionTimeout    time.Duration
	TranscriptionTimeout time.Duration
	DedupTTL             time.Duration
	AlertThreshold       float64
	FuzzyMatchThreshold  float64
	SnapshotCacheTTL     time.Duration

	// Database configuration
	DatabaseURL            string
	DatabaseMaxConnections int

	// Redis configuration (optional, memory fallback when empty)
	RedisURL string

	// Logging configuration
	LogLevel string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServiceHost = envOrDefault("SERVICE_HOST", "0.0.0.0")
	cfg.ServicePort = envOrDefault("SERVICE_PORT", "8080")
	cfg.InternalServicePort = envOrDefault("INTERNAL_SERVICE_PORT", "8081")

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	cfg.TelegramWebhookURL = os.Getenv("TELEGRAM_WEBHOOK_URL")
	if cfg.TelegramWebhookURL == "" {
		return nil, fmt.Errorf("TELEGRAM_WEBHOOK_URL is required")
	}
	cfg.TelegramSecretToken = os.Getenv("TELEGRAM_SECRET_TOKEN")

	var err error
	cfg.TelegramAllowedChatIDs, err = parseIDList(os.Getenv("TELEGRAM_ALLOWED_CHAT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_CHAT_IDS: %v", err)
	}
	if len(cfg.TelegramAllowedChatIDs) == 0 {
		return nil, fmt.Errorf("TELEGRAM_ALLOWED_CHAT_IDS is required")
	}
	cfg.TelegramAllowedUserIDs, err = parseIDList(os.Getenv("TELEGRAM_ALLOWED_USER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %v", err)
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIModel = envOrDefault("OPENAI_MODEL", "gpt-4o-mini")

	cfg.ExtractionMaxRetries, err = envInt("EXTRACTION_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	cfg.ExtractionTimeout, err = envDuration("EXTRACTION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.TranscriptionTimeout, err = envDuration("TRANSCRIPTION_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DedupTTL, err = envDuration("DEDUP_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.SnapshotCacheTTL, err = envDuration("SNAPSHOT_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.AlertThreshold, err = envFloat("ALERT_THRESHOLD", 10)
	if err != nil {
		return nil, err
	}
	cfg.FuzzyMatchThreshold, err = envFloat("FUZZY_MATCH_THRESHOLD", 0.6)
	if err != nil {
		return nil, err
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.DatabaseMaxConnections, err = envInt("DATABASE_MAX_CONNECTIONS", 10)
	if err != nil {
		return nil, err
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.LogLevel = envOrDefault("LOG_LEVEL", "info")

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return d, nil
}

// parseIDList parses a comma-separated list of numeric Telegram IDs.
func parseIDList(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a numeric ID", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.DatabaseURL, "postgresql://") && !strings.HasPrefix(c.DatabaseURL, "postgres://") {
		return fmt.Errorf("DATABASE_URL must start with postgresql:// or postgres://")
	}

	if c.DatabaseMaxConnections < 1 {
		return fmt.Errorf("DATABASE_MAX_CONNECTIONS must be at least 1")
	}

	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") {
		return fmt.Errorf("REDIS_URL must start with redis://")
	}

	if !strings.HasPrefix(c.TelegramWebhookURL, "https://") {
		return fmt.Errorf("TELEGRAM_WEBHOOK_URL must start with https://")
	}

	if c.ExtractionMaxRetries < 1 || c.ExtractionMaxRetries > 10 {
		return fmt.Errorf("EXTRACTION_MAX_RETRIES must be between 1 and 10")
	}
	if c.FuzzyMatchThreshold <= 0 || c.FuzzyMatchThreshold > 1 {
		return fmt.Errorf("FUZZY_MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.AlertThreshold < 0 {
		return fmt.Errorf("ALERT_THRESHOLD must not be negative")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	validLevel := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("LOG_LEVEL must be one of: %s", strings.Join(validLevels, ", "))
	}

	return nil
}

// String returns a string representation of the config (for logging, without sensitive data)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Host: %s, Port: %s, InternalPort: %s, LogLevel: %s, Chats: %d, Users: %d, Model: %s, DB: %s, Redis: %s}",
		c.ServiceHost, c.ServicePort, c.InternalServicePort, c.LogLevel,
		len(c.TelegramAllowedChatIDs), len(c.TelegramAllowedUserIDs),
		c.OpenAIModel, maskURL(c.DatabaseURL), maskURL(c.RedisURL),
	)
}

// maskURL masks sensitive information in URLs
func maskURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			return parts[0][:strings.Index(parts[0], "://")+3] + "***@" + parts[1]
		}
	}
	return url
}
