package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz"
	"github.com/chatwarden/chatwarden/internal/biz/usecase"
	"github.com/chatwarden/chatwarden/internal/data"
	"github.com/chatwarden/chatwarden/internal/service"
)

// Config represents application configuration
type Config struct {
	// Telegram configuration
	Telegram TelegramConfig

	// Model provider configuration
	Model ModelConfig

	// Storage backends
	Storage StorageConfig

	// Antispam classifier (optional)
	Antispam AntispamConfig

	// Batching and history
	Batch   BatchConfig
	History HistoryValues
	Review  ReviewValues

	// Response pacing
	Response ResponseConfig

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig

	// Admin API
	API APIConfig

	// Debug mode
	Debug bool
}

// TelegramConfig contains Telegram configuration
type TelegramConfig struct {
	BotToken     string
	AdminRefresh time.Duration
}

// ModelConfig contains model provider configuration
type ModelConfig struct {
	APIKey      string // default key for chats without their own
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	DBPath    string
	RedisAddr string
	NATSURL   string
}

// AntispamConfig contains the spam classifier endpoint
type AntispamConfig struct {
	URL     string
	Timeout time.Duration
}

// BatchConfig contains batching configuration
type BatchConfig struct {
	Size       int
	FlushAfter time.Duration
}

// HistoryValues contains history configuration values
type HistoryValues struct {
	Limit     int
	MaxChars  int
	Retention time.Duration
}

// ReviewValues contains review configuration values
type ReviewValues struct {
	TTL time.Duration
}

// ResponseConfig contains response configuration
type ResponseConfig struct {
	MaxLength int
	MinDelay  time.Duration
	MaxDelay  time.Duration
}

// APIConfig contains admin API configuration
type APIConfig struct {
	Port    int
	BaseURL string // used by the MCP server to reach a running instance
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".chatwarden", "chatwarden.db")
	}

	apiPort := envInt("API_PORT", 8080)
	apiBaseURL := os.Getenv("API_BASE_URL")
	if apiBaseURL == "" {
		apiBaseURL = "http://localhost:" + strconv.Itoa(apiPort)
	}

	// Load prompts from YAML
	promptsConfig, _ := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG_PATH"))

	// Env overrides the YAML response length
	if v := envInt("RESPONSE_MAX_LENGTH", 0); v > 0 {
		promptsConfig.Response.MaxLength = v
	}

	retry := usecase.DefaultRetryConfig()
	history := usecase.DefaultHistoryConfig()
	review := usecase.DefaultReviewConfig()
	batch := service.DefaultConfig()
	throttle := usecase.DefaultThrottleConfig()

	return &Config{
		Telegram: TelegramConfig{
			BotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
			AdminRefresh: envSeconds("ADMIN_REFRESH_SECONDS", 30*time.Minute),
		},
		Model: ModelConfig{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			BaseURL:     os.Getenv("OPENAI_BASE_URL"),
			Model:       os.Getenv("OPENAI_MODEL"),
			Timeout:     envSeconds("MODEL_TIMEOUT_SECONDS", retry.Timeout),
			MaxAttempts: envInt("MODEL_MAX_ATTEMPTS", retry.MaxAttempts),
			RetryDelay:  time.Duration(envInt("MODEL_RETRY_DELAY_MS", int(retry.Delay/time.Millisecond))) * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath:    dbPath,
			RedisAddr: os.Getenv("REDIS_ADDR"),
			NATSURL:   os.Getenv("NATS_URL"),
		},
		Antispam: AntispamConfig{
			URL:     os.Getenv("ANTISPAM_URL"),
			Timeout: envSeconds("ANTISPAM_TIMEOUT_SECONDS", 5*time.Second),
		},
		Batch: BatchConfig{
			Size:       envInt("BATCH_SIZE", batch.BatchSize),
			FlushAfter: envSeconds("FLUSH_AFTER_SECONDS", batch.FlushAfter),
		},
		History: HistoryValues{
			Limit:     envInt("HISTORY_LIMIT", history.FetchLimit),
			MaxChars:  envInt("HISTORY_MAX_CHARS", history.MaxChars),
			Retention: time.Duration(envInt("HISTORY_RETENTION_DAYS", int(history.Retention/(24*time.Hour)))) * 24 * time.Hour,
		},
		Review: ReviewValues{
			TTL: envSeconds("REVIEW_TTL_SECONDS", review.TTL),
		},
		Response: ResponseConfig{
			MaxLength: promptsConfig.Response.MaxLength,
			MinDelay:  time.Duration(envInt("RESPONSE_MIN_DELAY_MS", int(throttle.MinDelay/time.Millisecond))) * time.Millisecond,
			MaxDelay:  time.Duration(envInt("RESPONSE_MAX_DELAY_MS", int(throttle.MaxDelay/time.Millisecond))) * time.Millisecond,
		},
		Prompts: promptsConfig,
		API: APIConfig{
			Port:    apiPort,
			BaseURL: apiBaseURL,
		},
		Debug: os.Getenv("DEBUG") == "true",
	}
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return def
}

// ToServiceConfig converts to moderation service configuration
func (c *Config) ToServiceConfig() service.Config {
	return service.Config{BatchSize: c.Batch.Size, FlushAfter: c.Batch.FlushAfter}
}

// ToHistoryConfig converts to history configuration
func (c *Config) ToHistoryConfig() usecase.HistoryConfig {
	return usecase.HistoryConfig{
		FetchLimit: c.History.Limit,
		MaxChars:   c.History.MaxChars,
		Retention:  c.History.Retention,
	}
}

// ToReviewConfig converts to review configuration
func (c *Config) ToReviewConfig() usecase.ReviewConfig {
	cfg := usecase.DefaultReviewConfig()
	cfg.TTL = c.Review.TTL
	return cfg
}

// ToModerationConfig converts to pipeline configuration
func (c *Config) ToModerationConfig() usecase.ModerationConfig {
	return usecase.ModerationConfig{
		DefaultAPIKey: c.Model.APIKey,
		Retry: usecase.RetryConfig{
			Timeout:     c.Model.Timeout,
			MaxAttempts: c.Model.MaxAttempts,
			Delay:       c.Model.RetryDelay,
		},
	}
}

// ToThrottleConfig converts to response throttle configuration
func (c *Config) ToThrottleConfig() usecase.ThrottleConfig {
	cfg := usecase.DefaultThrottleConfig()
	cfg.MinDelay = c.Response.MinDelay
	cfg.MaxDelay = c.Response.MaxDelay
	return cfg
}

// ToUsecaseConfig converts to usecase layer configuration
func (c *Config) ToUsecaseConfig() biz.Config {
	return biz.Config{
		History:          c.ToHistoryConfig(),
		Review:           c.ToReviewConfig(),
		Moderation:       c.ToModerationConfig(),
		Throttle:         c.ToThrottleConfig(),
		Prompt:           c.Prompts.ToPromptConfig(),
		ResponsePriority: c.Prompts.ResponsePriority(),
		ResponseMaxLen:   c.Response.MaxLength,
	}
}

// ToDataOptions converts to repository options
func (c *Config) ToDataOptions() data.Options {
	return data.Options{
		DBPath:          c.Storage.DBPath,
		RedisAddr:       c.Storage.RedisAddr,
		NATSURL:         c.Storage.NATSURL,
		AntispamURL:     c.Antispam.URL,
		AntispamTimeout: c.Antispam.Timeout,
		OpenAI: data.OpenAIConfig{
			APIKey:      c.Model.APIKey,
			BaseURL:     c.Model.BaseURL,
			Model:       c.Model.Model,
			Temperature: 0.1,
			JSONMode:    true,
		},
	}
}

// Validate validates the configuration for the serve command
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return &ConfigError{Field: "TELEGRAM_BOT_TOKEN", Message: "required"}
	}
	if c.Batch.Size <= 0 {
		return &ConfigError{Field: "BATCH_SIZE", Message: "must be positive"}
	}
	if c.Batch.FlushAfter <= 0 {
		return &ConfigError{Field: "FLUSH_AFTER_SECONDS", Message: "must be positive"}
	}
	if c.Model.MaxAttempts <= 0 {
		return &ConfigError{Field: "MODEL_MAX_ATTEMPTS", Message: "must be positive"}
	}
	if c.Review.TTL <= 0 {
		return &ConfigError{Field: "REVIEW_TTL_SECONDS", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
