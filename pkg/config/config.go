package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for nlu-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API tokens) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Port    string `yaml:"port" env:"PORT" env-default:"8080"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL) for intent/entity definitions and
	// trained model records.
	Database DatabaseConfig `yaml:"database"`

	// Redis backs the per-bot key-value store (rate windows, remote sync
	// metadata).
	Redis RedisConfig `yaml:"redis"`

	// NLU holds the provider and extraction pipeline settings.
	NLU NLUConfig `yaml:"nlu"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"nlu"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"nlu_engine"`
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

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Addr returns the host:port address for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NLUConfig holds provider selection, calibration and quota settings.
type NLUConfig struct {
	// Provider selects the NLU backend ("native", "recast", ...). An unknown
	// or empty key fails orchestrator construction.
	Provider string `yaml:"provider" env:"NLU_PROVIDER" env-default:"native"`

	// Confidence thresholds are kept as strings and parsed permissively:
	// invalid or negative values degrade to "always match" rather than
	// "never match".
	MinimumConfidence string `yaml:"minimum_confidence" env:"NLU_MINIMUM_CONFIDENCE" env-default:"0.3"`
	MaximumConfidence string `yaml:"maximum_confidence" env:"NLU_MAXIMUM_CONFIDENCE" env-default:"1000"`

	// MaximumRequestsPerHour is the per-bot extraction budget for one
	// wall-clock hour.
	MaximumRequestsPerHour int `yaml:"maximum_requests_per_hour" env:"NLU_MAXIMUM_REQUESTS_PER_HOUR" env-default:"1000"`

	// LanguagesStr is a comma-separated list of supported language codes.
	LanguagesStr    string   `yaml:"languages" env:"NLU_LANGUAGES" env-default:"en"`
	Languages       []string `yaml:"-"`
	DefaultLanguage string   `yaml:"default_language" env:"NLU_DEFAULT_LANGUAGE" env-default:"en"`

	// PreloadModels triggers a sync pass at provider init instead of lazily
	// on the first extraction.
	PreloadModels bool `yaml:"preload_models" env:"NLU_PRELOAD_MODELS" env-default:"true"`

	Native NativeConfig `yaml:"native"`
	Recast RecastConfig `yaml:"recast"`
}

// NativeConfig configures the local classifier and phrase-extraction service.
type NativeConfig struct {
	// FastTextBin is the path of the trainable classifier binary.
	FastTextBin string `yaml:"fasttext_bin" env:"NLU_FASTTEXT_BIN" env-default:"./bin/fasttext"`
	// LanguageModelPath is the pre-trained language identification model.
	LanguageModelPath string `yaml:"language_model_path" env:"NLU_LANGUAGE_MODEL_PATH" env-default:"./models/lid.176.ftz"`
	// ModelDir is where trained model blobs are materialized for prediction.
	ModelDir     string  `yaml:"model_dir" env:"NLU_MODEL_DIR" env-default:"./models"`
	LearningRate float64 `yaml:"learning_rate" env:"NLU_LEARNING_RATE" env-default:"0.8"`
	Epochs       int     `yaml:"epochs" env:"NLU_EPOCHS" env-default:"30"`
	// DucklingURL is the phrase-extraction service endpoint.
	DucklingURL string `yaml:"duckling_url" env:"NLU_DUCKLING_URL" env-default:"http://localhost:8000"`
	// DucklingEnabled turns system entity extraction on or off.
	DucklingEnabled bool `yaml:"duckling_enabled" env:"NLU_DUCKLING_ENABLED" env-default:"true"`
}

// RecastConfig configures the remote corpus-service backend.
type RecastConfig struct {
	BaseURL  string `yaml:"base_url" env:"RECAST_BASE_URL" env-default:"https://api.recast.ai/v2"`
	Token    string `yaml:"-" env:"RECAST_TOKEN"` // Secret - not in YAML
	UserSlug string `yaml:"user_slug" env:"RECAST_USER_SLUG" env-default:""`
	BotSlug  string `yaml:"bot_slug" env:"RECAST_BOT_SLUG" env-default:""`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.parseComplexFields()

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.NLU.Languages = splitCSV(c.NLU.LanguagesStr)
	if len(c.NLU.Languages) == 0 {
		c.NLU.Languages = []string{c.NLU.DefaultLanguage}
	}
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
