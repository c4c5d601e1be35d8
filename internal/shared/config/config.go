package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"url-analyzer/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	LLMProvider     string
	LLMModel        string
	LLMBaseURL      string
	LLMTimeout      time.Duration
	OpenAIAPIKey    string
	DatabaseURL     string
	Env             string

	QueueBackend  string
	SQSQueueURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisQueueKey string

	FetchTimeout      time.Duration
	FetchMaxBodyBytes int64
	FetchUserAgent    string
	FetchRatePerHost  float64

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	CacheFreshness   time.Duration
	WaitPollInterval time.Duration
	WaitMaxTimeout   time.Duration
	PollLimitWindow  time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int

	OperatorToken string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	env := normalizeEnv(v.GetString("ENV"))
	dbURL := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	return Config{
		Port:            v.GetString("PORT"),
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		ObjectStoreType: normalizeStoreType(v.GetString("OBJECT_STORE")),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),
		LLMProvider:     strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
		LLMModel:        v.GetString("LLM_MODEL"),
		LLMBaseURL:      v.GetString("LLM_BASE_URL"),
		LLMTimeout:      v.GetDuration("LLM_TIMEOUT"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		DatabaseURL:     dbURL,
		Env:             env,

		QueueBackend:  normalizeQueueBackend(v.GetString("QUEUE_BACKEND")),
		SQSQueueURL:   strings.TrimSpace(v.GetString("RA_SQS_QUEUE_URL")),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisQueueKey: v.GetString("REDIS_QUEUE_KEY"),

		FetchTimeout:      v.GetDuration("FETCH_TIMEOUT"),
		FetchMaxBodyBytes: v.GetInt64("FETCH_MAX_BODY_BYTES"),
		FetchUserAgent:    v.GetString("FETCH_USER_AGENT"),
		FetchRatePerHost:  v.GetFloat64("FETCH_RATE_PER_HOST"),

		RetryMaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryBaseDelay:   v.GetDuration("RETRY_BASE_DELAY"),
		CacheFreshness:   v.GetDuration("CACHE_FRESHNESS"),
		WaitPollInterval: v.GetDuration("WAIT_POLL_INTERVAL"),
		WaitMaxTimeout:   v.GetDuration("WAIT_MAX_TIMEOUT"),
		PollLimitWindow:  v.GetDuration("POLL_LIMIT_WINDOW"),
		RateLimitRPS:     v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:   v.GetInt("RATE_LIMIT_BURST"),

		OperatorToken: strings.TrimSpace(v.GetString("OPERATOR_TOKEN")),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		LogFile:   v.GetString("LOG_FILE"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "dev")
	v.SetDefault("CORS_ALLOW_ORIGINS", "http://localhost:5173")
	v.SetDefault("OBJECT_STORE", "local")
	v.SetDefault("LOCAL_STORE_DIR", "./data")
	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("LLM_TIMEOUT", "120s")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_QUEUE_KEY", "url-analyzer:jobs")
	v.SetDefault("FETCH_TIMEOUT", "15s")
	v.SetDefault("FETCH_MAX_BODY_BYTES", 5*1024*1024)
	v.SetDefault("FETCH_USER_AGENT", "url-analyzer/1.0")
	v.SetDefault("FETCH_RATE_PER_HOST", 2.0)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", "1s")
	v.SetDefault("CACHE_FRESHNESS", "168h")
	v.SetDefault("WAIT_POLL_INTERVAL", "1s")
	v.SetDefault("WAIT_MAX_TIMEOUT", "55s")
	v.SetDefault("POLL_LIMIT_WINDOW", "500ms")
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// DevLike reports whether the environment may fall back to in-memory components.
func (c Config) DevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "redis":
		return "redis"
	default:
		return ""
	}
}
