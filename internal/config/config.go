package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Sources   SourcesConfig
	R2        R2Config
	Pipeline  PipelineConfig
	Runner    RunnerConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	BatchPerHour    int
	ProcessPerHour  int
	RevisionPerHour int
}

type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type SourcesConfig struct {
	ServiceURL    string
	Timeout       int // seconds
	MinContentLen int
	MaxAgeHours   int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// PipelineConfig carries the orchestration knobs. The Gate ladder and QC
// pass thresholds are product constants and live with the gate code, not
// here.
type PipelineConfig struct {
	ScoreThreshold    int
	MinFacts          int
	MaxOptimizeIters  int
	RevisionCap       int
	RetryCap          int
	StuckTimeout      time.Duration
	LLMCallCost       float64
	EstimatedItemCost float64
	DailyItemCap      int
	MonthlyBudget     float64
}

type RunnerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("LLM_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")
	_ = viper.BindEnv("sources.service_url", "SOURCES_SERVICE_URL")
	_ = viper.BindEnv("sources.timeout", "SOURCES_TIMEOUT")
	_ = viper.BindEnv("sources.min_content_len", "SOURCES_MIN_CONTENT_LEN")
	_ = viper.BindEnv("sources.max_age_hours", "SOURCES_MAX_AGE_HOURS")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("pipeline.score_threshold", "PIPELINE_SCORE_THRESHOLD")
	_ = viper.BindEnv("pipeline.min_facts", "PIPELINE_MIN_FACTS")
	_ = viper.BindEnv("pipeline.max_optimize_iters", "PIPELINE_MAX_OPTIMIZE_ITERS")
	_ = viper.BindEnv("pipeline.revision_cap", "PIPELINE_REVISION_CAP")
	_ = viper.BindEnv("pipeline.retry_cap", "PIPELINE_RETRY_CAP")
	_ = viper.BindEnv("pipeline.stuck_timeout_minutes", "PIPELINE_STUCK_TIMEOUT_MINUTES")
	_ = viper.BindEnv("pipeline.llm_call_cost", "PIPELINE_LLM_CALL_COST")
	_ = viper.BindEnv("pipeline.estimated_item_cost", "PIPELINE_ESTIMATED_ITEM_COST")
	_ = viper.BindEnv("pipeline.daily_item_cap", "PIPELINE_DAILY_ITEM_CAP")
	_ = viper.BindEnv("pipeline.monthly_budget", "PIPELINE_MONTHLY_BUDGET")
	_ = viper.BindEnv("runner.enabled", "RUNNER_ENABLED")
	_ = viper.BindEnv("runner.interval_minutes", "RUNNER_INTERVAL_MINUTES")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.batch_per_hour", 6)
	viper.SetDefault("ratelimit.process_per_hour", 30)
	viper.SetDefault("ratelimit.revision_per_hour", 20)

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")
	viper.SetDefault("llm.max_tokens", 2048)

	// Source discovery defaults
	viper.SetDefault("sources.service_url", "http://localhost:8085")
	viper.SetDefault("sources.timeout", 30)
	viper.SetDefault("sources.min_content_len", 280)
	viper.SetDefault("sources.max_age_hours", 48)

	// Pipeline defaults
	viper.SetDefault("pipeline.score_threshold", 70)
	viper.SetDefault("pipeline.min_facts", 3)
	viper.SetDefault("pipeline.max_optimize_iters", 2)
	viper.SetDefault("pipeline.revision_cap", 5)
	viper.SetDefault("pipeline.retry_cap", 3)
	viper.SetDefault("pipeline.stuck_timeout_minutes", 60)
	viper.SetDefault("pipeline.llm_call_cost", 0.02)
	viper.SetDefault("pipeline.estimated_item_cost", 0.12)
	viper.SetDefault("pipeline.daily_item_cap", 10)
	viper.SetDefault("pipeline.monthly_budget", 25.0)

	// Runner defaults
	viper.SetDefault("runner.enabled", true)
	viper.SetDefault("runner.interval_minutes", 30)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			BatchPerHour:    viper.GetInt("ratelimit.batch_per_hour"),
			ProcessPerHour:  viper.GetInt("ratelimit.process_per_hour"),
			RevisionPerHour: viper.GetInt("ratelimit.revision_per_hour"),
		},
		LLM: LLMConfig{
			APIKey:    viper.GetString("llm.api_key"),
			BaseURL:   viper.GetString("llm.base_url"),
			Model:     viper.GetString("llm.model"),
			MaxTokens: viper.GetInt("llm.max_tokens"),
		},
		Sources: SourcesConfig{
			ServiceURL:    viper.GetString("sources.service_url"),
			Timeout:       viper.GetInt("sources.timeout"),
			MinContentLen: viper.GetInt("sources.min_content_len"),
			MaxAgeHours:   viper.GetInt("sources.max_age_hours"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Pipeline: PipelineConfig{
			ScoreThreshold:    viper.GetInt("pipeline.score_threshold"),
			MinFacts:          viper.GetInt("pipeline.min_facts"),
			MaxOptimizeIters:  viper.GetInt("pipeline.max_optimize_iters"),
			RevisionCap:       viper.GetInt("pipeline.revision_cap"),
			RetryCap:          viper.GetInt("pipeline.retry_cap"),
			StuckTimeout:      time.Duration(viper.GetInt("pipeline.stuck_timeout_minutes")) * time.Minute,
			LLMCallCost:       viper.GetFloat64("pipeline.llm_call_cost"),
			EstimatedItemCost: viper.GetFloat64("pipeline.estimated_item_cost"),
			DailyItemCap:      viper.GetInt("pipeline.daily_item_cap"),
			MonthlyBudget:     viper.GetFloat64("pipeline.monthly_budget"),
		},
		Runner: RunnerConfig{
			Enabled:  viper.GetBool("runner.enabled"),
			Interval: time.Duration(viper.GetInt("runner.interval_minutes")) * time.Minute,
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
