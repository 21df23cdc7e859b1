package config

import (
	"fmt"
	"math"
	"strings"
)

// validSSLModes are the PostgreSQL sslmode values pgx accepts.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for invalid values.
// Returns a sentinel error (wrapped with detail) on the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d outside [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: model is empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension != EmbeddingDimension {
		return fmt.Errorf("%w: got %d, schema requires %d",
			ErrInvalidEmbedderDimension, c.EmbedderDimension, EmbeddingDimension)
	}

	if c.KnowledgeTopK < 1 || c.KnowledgeTopK > MaxTopK {
		return fmt.Errorf("%w: knowledge_top_k %d outside [1, %d]", ErrInvalidTopK, c.KnowledgeTopK, MaxTopK)
	}
	if c.LearningsTopK < 1 || c.LearningsTopK > MaxTopK {
		return fmt.Errorf("%w: learnings_top_k %d outside [1, %d]", ErrInvalidTopK, c.LearningsTopK, MaxTopK)
	}
	if c.MergedMax < 1 || c.MergedMax > 2*MaxTopK {
		return fmt.Errorf("%w: merged_max %d outside [1, %d]", ErrInvalidMergedMax, c.MergedMax, 2*MaxTopK)
	}

	if c.HybridVectorWeight < 0 || c.HybridLexicalWeight < 0 ||
		math.Abs(c.HybridVectorWeight+c.HybridLexicalWeight-1.0) > 1e-9 {
		return fmt.Errorf("%w: vector %g + lexical %g must sum to 1",
			ErrInvalidWeights, c.HybridVectorWeight, c.HybridLexicalWeight)
	}

	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("%w: %g outside (0, 1]", ErrInvalidDedupThreshold, c.DedupThreshold)
	}

	if c.RowLimitCeiling < 1 || c.RowLimitCeiling > MaxRowLimitCeiling {
		return fmt.Errorf("%w: %d outside [1, %d]", ErrInvalidRowLimit, c.RowLimitCeiling, MaxRowLimitCeiling)
	}

	if c.SchemaTTL <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSchemaTTL, c.SchemaTTL)
	}

	return nil
}
