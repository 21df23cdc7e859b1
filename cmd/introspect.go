package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var introspectCmd = &cobra.Command{
	Use:   "introspect <table>",
	Short: "Describe a table from the live database catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, cleanup, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		desc, err := a.Introspector.Describe(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Table: %s\n\n", desc.Table)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLUMN\tTYPE")
		for _, col := range desc.Columns {
			fmt.Fprintf(w, "%s\t%s\n", col.Name, col.Type)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(introspectCmd)
}
