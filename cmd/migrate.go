package cmd

import (
	"github.com/spf13/cobra"

	"github.com/koopa0/da/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded database migrations in order. Safe to run
repeatedly; an up-to-date schema is a no-op. Refuses to run on a dirty
schema state.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadEnvironment()
		if err != nil {
			return err
		}

		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return err
		}

		logger.Info("schema up to date", "database", cfg.PostgresDBName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
