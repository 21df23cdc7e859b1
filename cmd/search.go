package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koopa0/da/internal/config"
)

var searchMax int

var searchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Retrieve the context block for a question",
	Long: `Run retrieval for a question: search the knowledge and learnings
collections, merge and deduplicate the results, and print the ranked,
origin-tagged context block that would feed answer generation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		var overrides []config.Override
		if searchMax > 0 {
			overrides = append(overrides, func(c *config.Config) {
				c.MergedMax = searchMax
			})
		}

		ctx, a, cleanup, err := setupApp(cmd.Context(), overrides...)
		if err != nil {
			return err
		}
		defer cleanup()

		block, err := a.Orchestrator.Retrieve(ctx, question)
		if err != nil {
			return err
		}

		if block.Degraded {
			fmt.Fprintln(os.Stderr, "warning: embedder unavailable, results are lexical-only")
		}
		if len(block.Entries) == 0 {
			fmt.Println("No matching context.")
			return nil
		}

		fmt.Println(block.Render())
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchMax, "max", 0,
		"cap on merged context entries (0 uses the configured default)")
	rootCmd.AddCommand(searchCmd)
}
