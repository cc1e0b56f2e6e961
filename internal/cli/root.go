package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "plexmend",
	Short: "Reconcile a good Plex database backup with a newer, corrupt one",
	Long: `plexmend merges two snapshots of a Plex library database: an older,
structurally sound backup used as the base, and a newer database that is
semantically ahead but possibly corrupt. Watch history, per-item settings,
and optionally new library items are carried over by guid, with internal
ids remapped so nothing collides with the base.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
