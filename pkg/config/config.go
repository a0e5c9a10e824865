package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the intel-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8484"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional status-read cache)
	Redis RedisConfig `yaml:"redis"`

	// AI model endpoints used by the scoring and insight stages
	AI AIConfig `yaml:"ai"`

	// Knowledge search backend used by the cross-referencer
	Search SearchConfig `yaml:"search"`

	// Repository source access
	Ingest IngestConfig `yaml:"ingest"`

	// Work queue topology and pipeline behavior
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Background maintenance jobs
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"intel"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"intel_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration. Host empty means Redis is disabled;
// the status façade then serves every read from Postgres.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// CacheTTLSeconds bounds staleness of cached terminal analyses.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"REDIS_CACHE_TTL_SECONDS" env-default:"60"`
}

// AIConfig holds LLM endpoints for the analyzer stages.
type AIConfig struct {
	// Provider selects the client implementation: "openai" (any
	// OpenAI-compatible endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	BaseURL  string `yaml:"base_url" env:"AI_BASE_URL" env-default:""`
	Model    string `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	// MaxConcurrent bounds in-flight model calls across all scoring workers.
	MaxConcurrent int `yaml:"max_concurrent" env:"AI_MAX_CONCURRENT" env-default:"4"`
	// TimeoutSeconds bounds a single model call.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"AI_TIMEOUT_SECONDS" env-default:"120"`
}

// SearchConfig holds the knowledge search backend configuration.
// The semantic pass talks to Weaviate; the keyword pass queries the content
// store directly.
type SearchConfig struct {
	WeaviateScheme string `yaml:"weaviate_scheme" env:"WEAVIATE_SCHEME" env-default:"http"`
	WeaviateHost   string `yaml:"weaviate_host" env:"WEAVIATE_HOST" env-default:""`
	WeaviateAPIKey string `yaml:"-" env:"WEAVIATE_API_KEY"` // Secret - not in YAML
	ClassName      string `yaml:"class_name" env:"WEAVIATE_CLASS" env-default:"KnowledgeItem"`
	// TopN is how many cross-references are attached per analysis.
	TopN int `yaml:"top_n" env:"SEARCH_TOP_N" env-default:"10"`
}

// SemanticEnabled reports whether the semantic pass is configured.
func (c *SearchConfig) SemanticEnabled() bool {
	return c.WeaviateHost != ""
}

// IngestConfig holds repository source access settings.
type IngestConfig struct {
	// APIBaseURL is the code-host API endpoint (GitHub-compatible).
	APIBaseURL string `yaml:"api_base_url" env:"INGEST_API_BASE_URL" env-default:"https://api.github.com"`
	Token      string `yaml:"-" env:"INGEST_TOKEN"` // Secret - not in YAML
	// TimeoutSeconds bounds a single fetch call.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"INGEST_TIMEOUT_SECONDS" env-default:"60"`
}

// QueueWorkers sets the worker-pool size of each named queue. Sizes are
// matched to the resource class of the work: model-bound queues stay small
// to respect rate limits, CPU-bound parsing gets a larger pool.
type QueueWorkers struct {
	RepoAnalysis        int `yaml:"repo_analysis" env:"QUEUE_REPO_ANALYSIS" env-default:"4"`
	FileProcessing      int `yaml:"file_processing" env:"QUEUE_FILE_PROCESSING" env-default:"8"`
	MediaProcessing     int `yaml:"media_processing" env:"QUEUE_MEDIA_PROCESSING" env-default:"2"`
	AIProcessing        int `yaml:"ai_processing" env:"QUEUE_AI_PROCESSING" env-default:"3"`
	GeneralAnalysis     int `yaml:"general_analysis" env:"QUEUE_GENERAL_ANALYSIS" env-default:"4"`
	InsightGeneration   int `yaml:"insight_generation" env:"QUEUE_INSIGHT_GENERATION" env-default:"2"`
	PackageIntelligence int `yaml:"package_intelligence" env:"QUEUE_PACKAGE_INTELLIGENCE" env-default:"2"`
}

// PipelineConfig holds work-queue fabric and stage execution settings.
type PipelineConfig struct {
	Workers QueueWorkers `yaml:"workers"`
	// StageTimeoutSeconds bounds a single stage execution.
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds" env:"STAGE_TIMEOUT_SECONDS" env-default:"300"`
	// MaxRetries bounds per-stage retry attempts for transient errors.
	MaxRetries int `yaml:"max_retries" env:"STAGE_MAX_RETRIES" env-default:"3"`
}

// StageTimeout returns the per-stage execution bound as a duration.
func (c *PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// SchedulerConfig holds periodic maintenance settings.
type SchedulerConfig struct {
	// ReconcileIntervalSeconds is how often the reconciliation sweep runs.
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds" env:"RECONCILE_INTERVAL_SECONDS" env-default:"60"`
	// StalenessThresholdSeconds is how long a non-terminal analysis may go
	// without a state-store write before the sweep considers it stuck.
	StalenessThresholdSeconds int `yaml:"staleness_threshold_seconds" env:"STALENESS_THRESHOLD_SECONDS" env-default:"600"`
	// RetentionDays is how long terminal analyses are kept.
	RetentionDays int `yaml:"retention_days" env:"ANALYSIS_RETENTION_DAYS" env-default:"90"`
	// RetentionIntervalHours is how often the retention prune runs.
	RetentionIntervalHours int `yaml:"retention_interval_hours" env:"RETENTION_INTERVAL_HOURS" env-default:"24"`
}

// ReconcileInterval returns the sweep cadence as a duration.
func (c *SchedulerConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// StalenessThreshold returns the stuck-analysis threshold as a duration.
func (c *SchedulerConfig) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessThresholdSeconds) * time.Second
}

// RetentionInterval returns the prune cadence as a duration.
func (c *SchedulerConfig) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalHours) * time.Hour
}

// Load reads configuration from config.yaml with environment variable
// overrides. If config.yaml does not exist, configuration comes from
// environment variables and defaults alone. The version parameter is
// injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.StageTimeoutSeconds <= 0 {
		return fmt.Errorf("stage_timeout_seconds must be positive")
	}
	if c.Scheduler.StalenessThresholdSeconds <= c.Pipeline.StageTimeoutSeconds {
		return fmt.Errorf("staleness_threshold_seconds must exceed stage_timeout_seconds, or the sweep would requeue live work")
	}
	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	return nil
}
