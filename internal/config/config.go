package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm" validate:"required"`
	Processing ProcessingConfig `mapstructure:"processing" validate:"required"`
	Notify     NotifyConfig     `mapstructure:"notify" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// LLMConfig contains all language-model integration settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelID      string `mapstructure:"model_id" validate:"required"`

	// RequestsPerSecond is the refill rate of the token bucket gating
	// all model calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"required,gt=0"`

	// BurstCapacity caps the bucket. Zero means twice the refill rate.
	BurstCapacity int `mapstructure:"burst_capacity" validate:"min=0"`

	// MaxRetries is the retry budget for transient model call failures.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`

	// RetryBaseDelaySeconds is the base of the exponential backoff
	// between retries.
	RetryBaseDelaySeconds int `mapstructure:"retry_base_delay_seconds" validate:"min=1"`

	MaxOutputTokens int     `mapstructure:"max_output_tokens" validate:"min=1"`
	Temperature     float32 `mapstructure:"temperature" validate:"min=0,max=1"`

	// PriceTablePath optionally points at a JSON file overriding the
	// built-in per-model price table.
	PriceTablePath string `mapstructure:"price_table_path"`
}

// ProcessingConfig contains the job engine settings.
type ProcessingConfig struct {
	// Workers is the fixed number of concurrent note processors.
	Workers int `mapstructure:"workers" validate:"required,gt=0"`

	// QueueSize caps jobs admitted but not yet finished, queued and
	// running together. Submissions beyond it are rejected, never
	// blocked.
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`

	// JobTimeoutSeconds is the hard wall-clock budget per job measured
	// from dispatch.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds" validate:"required,gt=0"`

	// PreviousVisits is how many prior visits to load as historical
	// context when the patient identifier is known.
	PreviousVisits int `mapstructure:"previous_visits" validate:"min=0"`

	// BulkBatchSize chunks bulk section writes to the note repository.
	BulkBatchSize int `mapstructure:"bulk_batch_size" validate:"required,gt=0"`

	// JobRetentionMinutes controls how long terminal job records stay
	// queryable in memory before cleanup evicts them.
	JobRetentionMinutes int `mapstructure:"job_retention_minutes" validate:"min=1"`
}

// NotifyConfig contains the downstream notification sink settings.
type NotifyConfig struct {
	Endpoint       string `mapstructure:"endpoint" validate:"required,url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"min=1"`
}

// JobTimeout returns the per-job timeout as a duration.
func (c ProcessingConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// JobRetention returns the terminal-record retention as a duration.
func (c ProcessingConfig) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionMinutes) * time.Minute
}

// RetryBaseDelay returns the backoff base as a duration.
func (c LLMConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds) * time.Second
}

// Timeout returns the notification request timeout as a duration.
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
