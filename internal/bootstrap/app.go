package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"url-analyzer/internal/fetcher"
	"url-analyzer/internal/jobs"
	"url-analyzer/internal/llm"
	openai "url-analyzer/internal/llm/openai"
	"url-analyzer/internal/queue"
	"url-analyzer/internal/retry"
	"url-analyzer/internal/services/health"
	"url-analyzer/internal/shared/config"
	"url-analyzer/internal/shared/server"
	"url-analyzer/internal/shared/server/middleware"
	"url-analyzer/internal/shared/storage/db"
	"url-analyzer/internal/shared/storage/object"
	localstore "url-analyzer/internal/shared/storage/object/local"
	s3store "url-analyzer/internal/shared/storage/object/s3"
	"url-analyzer/internal/shared/telemetry"
)

// App holds shared dependencies.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	DB          *sql.DB
	Store       object.ObjectStore
	Queue       queue.Client
	Consumer    queue.Consumer
	Recoverer   Recoverer
	JobsRepo    jobs.Repo
	JobsService *jobs.Service
	JobsHandler *jobs.Handler
	Processor   Processor
}

// Processor runs one analysis job. Tests override it.
type Processor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// Recoverer requeues deliveries a crashed worker left in flight.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	telemetry.Configure(telemetry.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
		Service: "url-analyzer",
	})
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
	}

	if err := buildQueue(ctx, app); err != nil {
		return nil, err
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:      app.Config,
		Health:      health.NewService(pinger(app.DB)),
		RateLimiter: middleware.NewRateLimiter(nil),
		Routes:      []server.RouteRegistrar{app.JobsHandler},
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.DevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.RuntimeProfile(db.ProfileServer))
	if err != nil {
		if cfg.DevLike() {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "database connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	if cfg.DevLike() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, app *App) error {
	cfg := app.Config
	switch cfg.QueueBackend {
	case "sqs":
		if cfg.SQSQueueURL == "" {
			return fmt.Errorf("QUEUE_BACKEND=sqs requires RA_SQS_QUEUE_URL")
		}
		client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return err
		}
		app.Queue = client
		app.Consumer = client
	case "redis":
		client, err := queue.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisQueueKey)
		if err != nil {
			return err
		}
		app.Queue = client
		app.Consumer = client
		app.Recoverer = client
	}
	return nil
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	if cfg.LLMProvider != "openai" {
		return llm.PlaceholderClient{}, nil
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" && cfg.DevLike() {
		telemetry.Warn("bootstrap.llm_placeholder", map[string]any{"reason": "OPENAI_API_KEY empty"})
		return llm.PlaceholderClient{}, nil
	}
	return openai.NewClient(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.LLMModel,
		BaseURL: cfg.LLMBaseURL,
		Timeout: cfg.LLMTimeout,
	})
}

func buildServices(app *App) error {
	var repo jobs.Repo
	if app.DB != nil {
		repo = &jobs.PGRepo{DB: app.DB}
	} else {
		repo = jobs.NewMemoryRepo()
	}

	llmClient, err := buildLLM(app.Config)
	if err != nil {
		return err
	}

	svc := &jobs.Service{
		Repo: repo,
		Fetcher: fetcher.NewHTTPFetcher(fetcher.Options{
			UserAgent:    app.Config.FetchUserAgent,
			Timeout:      app.Config.FetchTimeout,
			MaxBodyBytes: app.Config.FetchMaxBodyBytes,
			RatePerHost:  app.Config.FetchRatePerHost,
		}),
		LLM:   llmClient,
		Store: app.Store,
		Queue: app.Queue,
		Retry: retry.Policy{
			MaxAttempts: app.Config.RetryMaxAttempts,
			BaseDelay:   app.Config.RetryBaseDelay,
		},
		CacheFreshness:   app.Config.CacheFreshness,
		WaitPollInterval: app.Config.WaitPollInterval,
		WaitMaxTimeout:   app.Config.WaitMaxTimeout,
	}

	app.JobsRepo = repo
	app.JobsService = svc
	app.Processor = svc
	app.JobsHandler = jobs.NewHandler(svc, jobs.NewPollLimiter(app.Config.PollLimitWindow, nil), app.Config.OperatorToken)

	if app.JobsHandler == nil {
		return errors.New("failed to initialize handlers")
	}
	return nil
}

// pinger keeps a nil *sql.DB from becoming a non-nil interface.
func pinger(d *sql.DB) health.Pinger {
	if d == nil {
		return nil
	}
	return d
}
