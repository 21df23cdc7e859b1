package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/koopa0/da/internal/store"
)

// SeedItem is one curated fact in a seed file.
type SeedItem struct {
	Text string   `yaml:"text"`
	Tags []string `yaml:"tags"`
}

// SeedFile is the on-disk format consumed by the seed command:
//
//	items:
//	  - text: The races table records one row per grand prix.
//	    tags: [schema]
type SeedFile struct {
	Items []SeedItem `yaml:"items"`
}

// LoadSeedFile parses a YAML seed file and validates its items.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	if len(file.Items) == 0 {
		return nil, fmt.Errorf("seed file %s contains no items", path)
	}
	for i, item := range file.Items {
		if strings.TrimSpace(item.Text) == "" {
			return nil, fmt.Errorf("seed item %d has empty text", i)
		}
	}
	return &file, nil
}

// Seed writes the file's items with source "seed" and returns how many
// were stored. Seeding stops at the first failed write so a partial load
// is visible in the count and the error.
func (s *Store) Seed(ctx context.Context, file *SeedFile) (int, error) {
	if file == nil {
		return 0, fmt.Errorf("seed file is nil")
	}

	for i, item := range file.Items {
		if _, err := s.items.Put(ctx, store.Item{
			Content: item.Text,
			Tags:    normalizeTags(item.Tags),
			Source:  store.SourceSeed,
		}); err != nil {
			return i, fmt.Errorf("seeding item %d: %w", i, err)
		}
	}

	s.logger.Info("seeded knowledge items", "count", len(file.Items))
	return len(file.Items), nil
}
