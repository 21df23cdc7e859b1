package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <statement>",
	Short: "Run a read-only SQL query through the guard",
	Long: `Validate a SQL statement against the safety rules (single SELECT,
explicit columns, enforced row limit) and execute it in a read-only
transaction. Rejected statements report why.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, cleanup, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := a.Executor.Execute(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join(result.Columns, "\t"))
		for _, row := range result.Rows {
			cells := make([]string, len(result.Columns))
			for i, col := range result.Columns {
				cells[i] = fmt.Sprintf("%v", row[col])
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d row(s)\n", len(result.Rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sqlCmd)
}
