package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexmend/plexmend/internal/config"
	"github.com/plexmend/plexmend/internal/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a newer database into a good base backup",
	Long: `Merge watch history and per-item settings (matched by guid) from the
newer database into a copy of the base backup, and optionally copy new
library items with their media subtrees, remapping ids so nothing collides.

The base is never modified; the output starts as an exact copy of it. If the
newer database will not open, --recover salvages what it can via the sqlite3
CLI before merging.

Use --dry-run to classify every row and emit the report without writing.`,
	RunE: runMerge,
}

var (
	mergeBase       string
	mergeNewer      string
	mergeOutput     string
	mergeRecover    bool
	mergeNewItems   bool
	mergeOverwrite  bool
	mergeDryRun     bool
	mergeReportPath string
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeBase, "base", "", "Path to the older, good backup")
	mergeCmd.Flags().StringVar(&mergeNewer, "newer", "", "Path to the newer (possibly corrupt) database")
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "", "Path for the merged output database")
	mergeCmd.Flags().BoolVar(&mergeRecover, "recover", false, "If the newer database won't open, try sqlite3 .recover first")
	mergeCmd.Flags().BoolVar(&mergeNewItems, "merge-new-items", false, "Also copy new library items with id remapping")
	mergeCmd.Flags().BoolVar(&mergeOverwrite, "overwrite", false, "Replace the output file if it already exists")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Classify and report without writing")
	mergeCmd.Flags().StringVar(&mergeReportPath, "report", "", "Write JSON report to path")

	mergeCmd.MarkFlagRequired("base")
	mergeCmd.MarkFlagRequired("newer")
	mergeCmd.MarkFlagRequired("output")
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := merge.Options{
		BasePath:         normalizePath(mergeBase),
		NewerPath:        normalizePath(mergeNewer),
		OutputPath:       normalizePath(mergeOutput),
		Recover:          mergeRecover,
		MergeNewItems:    mergeNewItems,
		Overwrite:        mergeOverwrite,
		DryRun:           mergeDryRun,
		HistoryDedupKey:  config.DedupColumns(cfg.HistoryDedupKey),
		SettingsDedupKey: config.DedupColumns(cfg.SettingsDedupKey),
		Sqlite3Bin:       cfg.Sqlite3Bin,
		RecoverTimeout:   time.Duration(cfg.RecoverTimeoutSecs) * time.Second,
		Sink:             newSink(cfg.LogLevel),
	}

	report, err := merge.Run(context.Background(), opts)
	if report != nil && mergeReportPath != "" {
		data, jerr := json.MarshalIndent(report, "", "  ")
		if jerr == nil {
			jerr = os.WriteFile(mergeReportPath, data, 0644)
		}
		if jerr != nil && err == nil {
			err = fmt.Errorf("failed to write report: %w", jerr)
		}
	}
	if err != nil {
		return err
	}

	printMergeSummary(cmd, report)
	return nil
}

func printMergeSummary(cmd *cobra.Command, report *merge.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Merged %s + %s -> %s\n", report.BasePath, report.NewerPath, report.OutputPath)
	if report.DryRun {
		fmt.Fprintln(out, "Mode: dry-run")
	}
	if report.Recovered {
		fmt.Fprintf(out, "Newer database recovered via %s\n", report.RecoveryStrategy)
	}
	fmt.Fprintf(out, "Watch history: %d added, %d orphaned, %d duplicate\n",
		report.Views.Merged, report.Views.Orphaned, report.Views.Duplicate)
	fmt.Fprintf(out, "Settings: %d added (%d replaced), %d orphaned\n",
		report.Settings.Merged, report.Settings.Replaced, report.Settings.Orphaned)
	if report.Items.Seen > 0 || report.Items.Merged > 0 {
		fmt.Fprintf(out, "New items: %d copied (%d media items, %d parts, %d streams), %d skipped for unknown section\n",
			report.Items.Merged, report.MediaItems, report.MediaParts,
			report.MediaStreams, report.Items.UnknownSection)
	}
	if report.DryRun {
		fmt.Fprintf(out, "Done in %s. Nothing was written; re-run without --dry-run to merge.\n",
			report.Elapsed.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(out, "Done in %s. Stop Plex, replace its database with %s, then start Plex.\n",
		report.Elapsed.Round(time.Millisecond), report.OutputPath)
}
