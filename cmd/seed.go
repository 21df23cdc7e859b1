package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/da/internal/knowledge"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load curated knowledge from a YAML seed file",
	Long: `Load curated facts (schema notes, business rules) into the knowledge
collection. Each item is embedded and stored with source "seed".

Seed file format:

  items:
    - text: The races table records one row per grand prix.
      tags: [schema]
    - text: Championship points use the post-2010 scoring system.
      tags: [business_rule]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := knowledge.LoadSeedFile(args[0])
		if err != nil {
			return err
		}

		ctx, a, cleanup, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		count, err := a.Knowledge.Seed(ctx, file)
		if err != nil {
			return fmt.Errorf("seeded %d of %d items: %w", count, len(file.Items), err)
		}

		fmt.Printf("Seeded %d knowledge items from %s\n", count, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
