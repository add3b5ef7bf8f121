package souschef

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// ModelConfig selects the chat and embedding backends.
type ModelConfig struct {
	Provider          string  `env:"LLM_PROVIDER,default=openai"`
	ModelID           string  `env:"MODEL_ID,default=gpt-4o-mini"`
	APIKey            string  `env:"LLM_API_KEY"`
	BaseURL           string  `env:"LLM_BASE_URL"`
	MaxTokens         int32   `env:"MAX_TOKENS,default=1024"`
	Temperature       float32 `env:"TEMPERATURE,default=0.2"`
	TopP              float32 `env:"TOP_P,default=0.9"`
	RequestsPerMinute int     `env:"LLM_REQUESTS_PER_MINUTE,default=60"`

	EmbeddingProvider string `env:"EMBEDDING_PROVIDER,default=openai"`
	EmbeddingModel    string `env:"EMBEDDING_MODEL,default=text-embedding-3-small"`
	EmbeddingAPIKey   string `env:"EMBEDDING_API_KEY"`
}

// PlannerConfig tunes meal generation and the assistant loop.
type PlannerConfig struct {
	MaxAttempts            int           `env:"MEALGEN_MAX_ATTEMPTS,default=3"`
	SimilarityThreshold    float64       `env:"MEALGEN_SIMILARITY_THRESHOLD,default=0.85"`
	LookbackWeeks          int           `env:"MEALGEN_LOOKBACK_WEEKS,default=3"`
	RetryDelay             time.Duration `env:"MEALGEN_RETRY_DELAY,default=1s"`
	ComputePantryUsage     bool          `env:"MEALGEN_PANTRY_USAGE,default=true"`
	MealTypes              []string      `env:"MEALGEN_MEAL_TYPES,default=Breakfast;Lunch;Dinner"`
	AssistantMaxIterations int           `env:"ASSISTANT_MAX_ITERATIONS,default=8"`
	AssistantHistoryLimit  int           `env:"ASSISTANT_HISTORY_LIMIT,default=20"`
	AttemptLogPath         string        `env:"ATTEMPT_LOG_PATH"`
}

type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER,default=sqlite"`
	DSN    string `env:"DB_DSN,default=souschef.db"`
}

// QueueConfig configures the pantry-usage task queue. An empty RedisAddr
// keeps the queue in process.
type QueueConfig struct {
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`
	Key           string `env:"QUEUE_KEY,default=souschef:pantry_usage"`
	Workers       int    `env:"WORKERS,default=4"`
	MaxRetries    int    `env:"WORKER_MAX_RETRIES,default=3"`
}

type ServerConfig struct {
	Addr         string `env:"HTTP_ADDR,default=:8080"`
	DashboardURL string `env:"DASHBOARD_URL,default=http://localhost:8080"`
}

type ChannelConfig struct {
	TelegramToken     string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramSecret    string `env:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramBaseURL   string `env:"TELEGRAM_BASE_URL,default=https://api.telegram.org"`
	LineAccessToken   string `env:"LINE_CHANNEL_ACCESS_TOKEN"`
	LineChannelSecret string `env:"LINE_CHANNEL_SECRET"`
	LineBaseURL       string `env:"LINE_BASE_URL,default=https://api.line.me"`
	// SlackWebhookURL receives a note whenever a user messages a chef.
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
	SlackChannel    string `env:"SLACK_CHANNEL"`
}

// StorageConfig points at seed data and the export destination. When
// S3Bucket is set the S3 backend is used instead of the local paths.
type StorageConfig struct {
	SeedPath       string `env:"SEED_PATH,default=artifacts/seed.json"`
	ExportDir      string `env:"EXPORT_DIR,default=exports"`
	S3Bucket       string `env:"ARTIFACTS_S3_BUCKET"`
	S3SeedKey      string `env:"ARTIFACTS_SEED_S3_KEY,default=seed.json"`
	S3ExportPrefix string `env:"ARTIFACTS_EXPORT_S3_PREFIX,default=exports/"`
}

// Config groups every section read from the environment.
type Config struct {
	Model    ModelConfig
	Planner  PlannerConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Server   ServerConfig
	Channels ChannelConfig
	Storage  StorageConfig
}

// LoadConfig decodes each section from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	sections := []struct {
		name   string
		target any
	}{
		{"model", &cfg.Model},
		{"planner", &cfg.Planner},
		{"database", &cfg.Database},
		{"queue", &cfg.Queue},
		{"server", &cfg.Server},
		{"channels", &cfg.Channels},
		{"storage", &cfg.Storage},
	}
	for _, s := range sections {
		if err := envdecode.Decode(s.target); err != nil {
			return Config{}, fmt.Errorf("decode %s config: %w", s.name, err)
		}
	}
	if cfg.Model.EmbeddingAPIKey == "" {
		cfg.Model.EmbeddingAPIKey = cfg.Model.APIKey
	}
	return cfg, nil
}
