package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from a config file (when present) and from
// environment variables. Environment variables take precedence over
// values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("notedigest")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/notedigest")

	v.SetEnvPrefix("NOTEDIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional; environment variables alone are a
	// valid configuration source.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.LLM.BurstCapacity == 0 {
		burst := int(cfg.LLM.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
		cfg.LLM.BurstCapacity = burst
	}

	return &cfg, nil
}

// setDefaults registers documented fallbacks. Every one of these can be
// overridden from the environment or a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	// Registered with empty defaults so AutomaticEnv can populate them
	// during Unmarshal; validation rejects them when still unset.
	v.SetDefault("database.url", "")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("notify.endpoint", "")

	v.SetDefault("llm.model_id", "gemini-2.0-flash")
	v.SetDefault("llm.requests_per_second", 50)
	v.SetDefault("llm.burst_capacity", 0)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_base_delay_seconds", 2)
	v.SetDefault("llm.max_output_tokens", 30000)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.price_table_path", "")

	v.SetDefault("processing.workers", 10)
	v.SetDefault("processing.queue_size", 100)
	v.SetDefault("processing.job_timeout_seconds", 1200)
	v.SetDefault("processing.previous_visits", 1)
	v.SetDefault("processing.bulk_batch_size", 200)
	v.SetDefault("processing.job_retention_minutes", 1440)

	v.SetDefault("notify.timeout_seconds", 30)
}
