// Package app builds the whole service from configuration. Every binary
// goes through Build so the CLI, the HTTP server and the Lambda handler
// share one wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"souschef"
	"souschef/api"
	"souschef/assistant"
	"souschef/channels"
	"souschef/guard"
	"souschef/llm"
	"souschef/llm/bedrock"
	"souschef/llm/mock"
	"souschef/llm/openai"
	"souschef/mealgen"
	"souschef/pantryusage"
	"souschef/shopping"
	"souschef/storage"
	"souschef/store"
	"souschef/tools"
)

const (
	ProviderOpenAI  = openai.ProviderOpenAI
	ProviderGroq    = openai.ProviderGroq
	ProviderOllama  = openai.ProviderOllama
	ProviderBedrock = "bedrock"
	ProviderMock    = "mock"
)

type App struct {
	Config souschef.Config

	Store     *store.Store
	LLM       llm.Client
	Embedder  llm.Embedder
	Queue     pantryusage.Queue
	Worker    *pantryusage.Worker
	Planner   *mealgen.Generator
	Shopping  *shopping.Service
	Tools     tools.Registry
	Guard     *guard.Guard
	Assistant *assistant.Assistant
	Telegram  *channels.Telegram
	Line      *channels.Line
	Slack     *channels.Slack
	Seeds     storage.Loader
	Exports   storage.Writer
	Server    *api.Server

	closers []func() error
}

type options struct {
	client   llm.Client
	embedder llm.Embedder
	s3       storage.S3API
	logger   souschef.AttemptLogger
}

type Option func(*options)

// WithLLM replaces the configured provider.
func WithLLM(client llm.Client, embedder llm.Embedder) Option {
	return func(o *options) { o.client, o.embedder = client, embedder }
}

// WithS3 replaces the S3 client built from the default AWS config.
func WithS3(client storage.S3API) Option {
	return func(o *options) { o.s3 = client }
}

// WithAttemptLogger replaces the file logger chosen by ATTEMPT_LOG_PATH.
func WithAttemptLogger(l souschef.AttemptLogger) Option {
	return func(o *options) { o.logger = l }
}

// Build opens the database, connects the model provider and the queue and
// wires every component on top. Close releases what Build opened.
func Build(ctx context.Context, cfg souschef.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		slog.Error("SETUP: Failed to open database", "driver", cfg.Database.Driver, "error", err)
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)
	slog.Info("SETUP: Database ready", "driver", cfg.Database.Driver)

	a.LLM, a.Embedder = o.client, o.embedder
	if a.LLM == nil || a.Embedder == nil {
		client, embedder, err := newModels(ctx, cfg.Model)
		if err != nil {
			slog.Error("SETUP: Failed to create model client", "provider", cfg.Model.Provider, "error", err)
			return nil, err
		}
		if a.LLM == nil {
			a.LLM = client
		}
		if a.Embedder == nil {
			a.Embedder = embedder
		}
	}
	slog.Info("SETUP: Model client ready", "provider", cfg.Model.Provider, "model_id", cfg.Model.ModelID)

	logger := o.logger
	if logger == nil {
		var flush func() error
		logger, flush, err = newAttemptLogger(cfg.Planner.AttemptLogPath, cfg.Model.ModelID)
		if err != nil {
			slog.Error("SETUP: Failed to open attempt log", "error", err)
			return nil, err
		}
		a.closers = append(a.closers, flush)
	}

	if err := a.buildQueue(ctx, cfg.Queue); err != nil {
		return nil, err
	}

	var usage mealgen.UsageEnqueuer
	if cfg.Planner.ComputePantryUsage {
		usage = a.Queue
	}
	a.Planner = mealgen.NewGenerator(a.LLM, a.Embedder, a.Store, mealgen.Options{
		MaxAttempts:         cfg.Planner.MaxAttempts,
		SimilarityThreshold: cfg.Planner.SimilarityThreshold,
		LookbackWeeks:       cfg.Planner.LookbackWeeks,
		RetryDelay:          cfg.Planner.RetryDelay,
		Usage:               usage,
		Logger:              logger,
	})
	a.Shopping = shopping.NewService(a.Store)

	deps := tools.Deps{
		Store:        a.Store,
		Planner:      a.Planner,
		Shopping:     a.Shopping,
		DashboardURL: cfg.Server.DashboardURL,
	}
	if cfg.Channels.SlackWebhookURL != "" {
		a.Slack = channels.NewSlack(cfg.Channels.SlackWebhookURL, cfg.Channels.SlackChannel, nil)
		deps.Notifier = a.Slack
	}
	a.Tools = tools.NewRegistry(deps)
	a.Guard = guard.New(a.Tools, cfg.Server.DashboardURL)
	a.Assistant = assistant.New(a.LLM, a.Store, a.Guard, assistant.Options{
		MaxIterations: cfg.Planner.AssistantMaxIterations,
		HistoryLimit:  cfg.Planner.AssistantHistoryLimit,
		Temperature:   float64(cfg.Model.Temperature),
		Logger:        logger,
	})

	if cfg.Channels.TelegramToken != "" {
		a.Telegram = channels.NewTelegram(cfg.Channels.TelegramBaseURL, cfg.Channels.TelegramToken, nil)
	}
	if cfg.Channels.LineAccessToken != "" {
		a.Line = channels.NewLine(cfg.Channels.LineBaseURL, cfg.Channels.LineAccessToken, nil)
	}

	if err := a.buildStorage(ctx, cfg.Storage, o.s3); err != nil {
		return nil, err
	}

	apiDeps := api.Deps{
		Users:     a.Store,
		Assistant: a.Assistant,
		Planner:   a.Planner,
		Shopping:  a.Shopping,
		Exports:   a.Exports,
		Channels:  cfg.Channels,
	}
	// Typed nil pointers must not reach the interface fields.
	if a.Telegram != nil {
		apiDeps.Telegram = a.Telegram
	}
	if a.Line != nil {
		apiDeps.Line = a.Line
	}
	a.Server = api.NewServer(apiDeps)
	return a, nil
}

func (a *App) buildQueue(ctx context.Context, cfg souschef.QueueConfig) error {
	if cfg.RedisAddr != "" {
		q, err := pantryusage.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Key)
		if err != nil {
			slog.Error("SETUP: Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			return err
		}
		a.Queue = q
		slog.Info("SETUP: Redis queue ready", "addr", cfg.RedisAddr, "key", cfg.Key)
	} else {
		a.Queue = pantryusage.NewMemoryQueue(0)
		slog.Info("SETUP: In-process queue ready")
	}
	a.closers = append(a.closers, a.Queue.Close)

	a.Worker = pantryusage.NewWorker(a.Queue, pantryusage.NewEstimator(a.LLM, a.Store), pantryusage.WorkerOptions{
		Concurrency: cfg.Workers,
		MaxRetries:  cfg.MaxRetries,
	})
	return nil
}

func (a *App) buildStorage(ctx context.Context, cfg souschef.StorageConfig, client storage.S3API) error {
	if cfg.S3Bucket == "" {
		a.Seeds = storage.NewFileLoader(cfg.SeedPath)
		a.Exports = storage.NewFileWriter(cfg.ExportDir)
		return nil
	}
	if client == nil {
		awsCfg, err := loadAWSConfig(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to load AWS config", "error", err)
			return err
		}
		client = s3.NewFromConfig(awsCfg)
	}
	a.Seeds = storage.NewS3Loader(client, cfg.S3Bucket, cfg.S3SeedKey)
	a.Exports = storage.NewS3Writer(client, cfg.S3Bucket, cfg.S3ExportPrefix)
	slog.Info("SETUP: S3 storage ready", "bucket", cfg.S3Bucket)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newModels(ctx context.Context, cfg souschef.ModelConfig) (llm.Client, llm.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderMock:
		return mock.NewOffline(), mock.NewEmbedder(), nil

	case ProviderBedrock:
		awsCfg, err := loadAWSConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		// The embedding model only applies when embeddings also come from Bedrock.
		var embeddingModel string
		if strings.EqualFold(cfg.EmbeddingProvider, ProviderBedrock) {
			embeddingModel = cfg.EmbeddingModel
		}
		client := bedrock.New(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			ModelID:          cfg.ModelID,
			EmbeddingModelID: embeddingModel,
			MaxTokens:        cfg.MaxTokens,
			Temperature:      cfg.Temperature,
			TopP:             cfg.TopP,
		})
		return client, client, nil

	case ProviderOpenAI, ProviderGroq, ProviderOllama:
		client, err := openai.New(openai.Options{
			Provider:          strings.ToLower(cfg.Provider),
			ModelID:           cfg.ModelID,
			EmbeddingModel:    cfg.EmbeddingModel,
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         int(cfg.MaxTokens),
			Temperature:       float64(cfg.Temperature),
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
		if err != nil {
			return nil, nil, err
		}
		embedder, err := newEmbedder(cfg, client)
		if err != nil {
			return nil, nil, err
		}
		return client, embedder, nil

	default:
		return nil, nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// newEmbedder reuses the chat client when the embedding provider matches.
// Groq has no embedding endpoint, so it needs EMBEDDING_PROVIDER=openai.
func newEmbedder(cfg souschef.ModelConfig, chat *openai.Client) (llm.Embedder, error) {
	provider := strings.ToLower(cfg.EmbeddingProvider)
	chatProvider := strings.ToLower(cfg.Provider)
	switch {
	case provider == ProviderMock:
		return mock.NewEmbedder(), nil
	case provider == "" || provider == chatProvider:
		if chatProvider == ProviderGroq {
			return nil, fmt.Errorf("groq has no embedding endpoint; set EMBEDDING_PROVIDER")
		}
		return chat, nil
	case provider == ProviderOpenAI:
		return openai.New(openai.Options{
			Provider:          ProviderOpenAI,
			EmbeddingModel:    cfg.EmbeddingModel,
			APIKey:            cfg.EmbeddingAPIKey,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q for %s", cfg.EmbeddingProvider, cfg.Provider)
	}
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRetryMaxAttempts(5))
}

// newAttemptLogger writes attempts to a timestamped file under dir, or
// discards them when dir is empty.
func newAttemptLogger(dir, modelID string) (souschef.AttemptLogger, func() error, error) {
	if dir == "" {
		return souschef.NewNoOpAttemptLogger(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create attempt log dir: %w", err)
	}
	path := souschef.NewAttemptLogFilePath(dir, "souschef", modelID)
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open attempt log: %w", err)
	}
	logger := souschef.NewFileAttemptLogger(f)
	slog.Info("SETUP: Attempt log", "path", path)
	return logger, func() error { return errors.Join(logger.Flush(), f.Close()) }, nil
}
