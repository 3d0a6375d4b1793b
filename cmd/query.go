package cmd

import (
	"github.com/brensch/docingest/internal/query"

	"github.com/spf13/cobra"
)

var (
	queryMaxRows int
	queryWidth   int
)

var queryCmd = &cobra.Command{
	Use:   "query <statement>",
	Short: "Run a read-only SQL statement against the store",
	Long: `Runs a single SELECT or WITH statement and prints the rows. Statements
containing DROP, DELETE, UPDATE, INSERT, ALTER, CREATE, TRUNCATE, GRANT or
REVOKE are rejected before they reach the store.`,
	Example:     `  docingest query "SELECT original_zip, count(*) FROM documents GROUP BY 1"`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		stmt, err := query.ValidateReadOnly(args[0])
		if err != nil {
			return err
		}
		s, err := getStore(cmd.Context())
		if err != nil {
			return err
		}
		res, err := query.Execute(cmd.Context(), s.DB(), s.Dialect(), stmt, getConfig().QueryTimeout, queryMaxRows)
		if err != nil {
			return err
		}
		res.Print(cmd.OutOrStdout(), queryWidth)
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryMaxRows, "max-rows", 100, "Maximum rows to print")
	queryCmd.Flags().IntVar(&queryWidth, "width", 60, "Maximum characters per cell")
}
