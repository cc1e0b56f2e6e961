package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexmend/plexmend/internal/db"
)

var checkCmd = &cobra.Command{
	Use:   "check <database>",
	Short: "Open a database read-only and run an integrity check",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := normalizePath(args[0])
	database, err := db.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer database.Close()

	items, err := db.MaxID(database, "metadata_items")
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (max metadata item id %d)\n", database.Path(), items)
	return nil
}
