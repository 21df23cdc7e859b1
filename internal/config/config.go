// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (DA_* plus DATABASE_URL)
//  2. Config file (~/.da/config.yaml or ./config.yaml)
//  3. Default values
//
// Main categories:
//   - Storage: PostgreSQL connection (see storage.go)
//   - Embedder: provider, model, vector dimensionality
//   - Retrieval: per-store topK, merge cap, hybrid weights, dedup threshold
//   - Guard: SQL row limit ceiling and execution timeout
//   - Schema: catalog cache TTL
//
// Derived configurations (e.g. a Slack-facing variant of the base agent) are
// produced with Derive, never by mutating a shared Config (see derive.go).
//
// Security: the Postgres password is never logged; validation uses sentinel
// errors for errors.Is checks.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder dimensionality is
	// incompatible with the pgvector schema.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidTopK indicates a per-store topK outside [1, MaxTopK].
	ErrInvalidTopK = errors.New("invalid topK")

	// ErrInvalidMergedMax indicates the merged result cap is out of range.
	ErrInvalidMergedMax = errors.New("invalid merged result cap")

	// ErrInvalidWeights indicates hybrid weights that do not sum to 1.
	ErrInvalidWeights = errors.New("invalid hybrid search weights")

	// ErrInvalidDedupThreshold indicates a dedup threshold outside (0, 1].
	ErrInvalidDedupThreshold = errors.New("invalid dedup threshold")

	// ErrInvalidRowLimit indicates a SQL row limit ceiling out of range.
	ErrInvalidRowLimit = errors.New("invalid row limit ceiling")

	// ErrInvalidSchemaTTL indicates a non-positive schema cache TTL.
	ErrInvalidSchemaTTL = errors.New("invalid schema cache TTL")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the pgvector schema uses vector(768).
	DefaultEmbedderModel = "gemini-embedding-001"

	// EmbeddingDimension is the fixed dimensionality of stored vectors.
	// Must match the vector(N) column in db/migrations.
	EmbeddingDimension = 768

	// MaxTopK bounds per-store search fan-out.
	MaxTopK = 20

	// MaxRowLimitCeiling bounds the configurable SQL row limit.
	MaxRowLimitCeiling = 1000
)

// Config stores application configuration.
// Treat values as immutable after Load; derive variants with Derive.
type Config struct {
	// Logging
	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	LogJSON   bool   `mapstructure:"log_json" json:"log_json"`
	LogPretty bool   `mapstructure:"log_pretty" json:"log_pretty"`

	// Agent identity (derived variants override this, see derive.go)
	AgentName string `mapstructure:"agent_name" json:"agent_name"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE: never serialized
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedder configuration
	EmbedderModel     string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int     `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	EmbedRateLimit    float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"` // requests/sec, 0 disables

	// Retrieval configuration
	KnowledgeTopK       int     `mapstructure:"knowledge_top_k" json:"knowledge_top_k"`
	LearningsTopK       int     `mapstructure:"learnings_top_k" json:"learnings_top_k"`
	MergedMax           int     `mapstructure:"merged_max" json:"merged_max"`
	HybridVectorWeight  float64 `mapstructure:"hybrid_vector_weight" json:"hybrid_vector_weight"`
	HybridLexicalWeight float64 `mapstructure:"hybrid_lexical_weight" json:"hybrid_lexical_weight"`
	DedupThreshold      float64 `mapstructure:"dedup_threshold" json:"dedup_threshold"`

	// SQL guard configuration
	RowLimitCeiling int           `mapstructure:"row_limit_ceiling" json:"row_limit_ceiling"`
	SQLTimeout      time.Duration `mapstructure:"sql_timeout" json:"sql_timeout"`

	// Schema introspection configuration
	SchemaTTL      time.Duration `mapstructure:"schema_ttl" json:"schema_ttl"`
	CatalogTimeout time.Duration `mapstructure:"catalog_timeout" json:"catalog_timeout"`

	// External call bounds
	EmbedTimeout  time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	SearchTimeout time.Duration `mapstructure:"search_timeout" json:"search_timeout"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".da")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
// The retrieval and guard defaults are tunables, not contract: they come
// from observed behavior of the agent (LIMIT 50 rule, k=5 per store).
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("log_pretty", false)

	v.SetDefault("agent_name", "da")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "da")
	v.SetDefault("postgres_password", "da_dev_password")
	v.SetDefault("postgres_db_name", "da")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", EmbeddingDimension)
	v.SetDefault("embed_rate_limit", 10.0)

	v.SetDefault("knowledge_top_k", 5)
	v.SetDefault("learnings_top_k", 5)
	v.SetDefault("merged_max", 8)
	v.SetDefault("hybrid_vector_weight", 0.7)
	v.SetDefault("hybrid_lexical_weight", 0.3)
	v.SetDefault("dedup_threshold", 0.92)

	v.SetDefault("row_limit_ceiling", 50)
	v.SetDefault("sql_timeout", 30*time.Second)

	v.SetDefault("schema_ttl", 5*time.Minute)
	v.SetDefault("catalog_timeout", 5*time.Second)

	v.SetDefault("embed_timeout", 10*time.Second)
	v.SetDefault("search_timeout", 10*time.Second)
}

// bindEnvVariables binds DA_* environment variables to config keys.
func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("DA")
	v.AutomaticEnv()

	// Explicit bindings so keys work without a config file entry.
	for _, key := range []string{
		"log_level", "log_json", "log_pretty",
		"agent_name",
		"postgres_host", "postgres_port", "postgres_user",
		"postgres_password", "postgres_db_name", "postgres_ssl_mode",
		"embedder_model", "embedder_dimension", "embed_rate_limit",
		"knowledge_top_k", "learnings_top_k", "merged_max",
		"hybrid_vector_weight", "hybrid_lexical_weight", "dedup_threshold",
		"row_limit_ceiling", "sql_timeout",
		"schema_ttl", "catalog_timeout",
		"embed_timeout", "search_timeout",
	} {
		if err := v.BindEnv(key); err != nil {
			slog.Warn("binding environment variable", "key", key, "error", err)
		}
	}
}
