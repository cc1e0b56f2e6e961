package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/plexmend/plexmend/internal/db"
)

var diffCmd = &cobra.Command{
	Use:   "diff <a.db> <b.db>",
	Short: "Compare the merge-relevant row sets of two databases",
	Long: `Compare the row sets of the merge-relevant tables in two databases and
print a unified diff of any differences. Internal identifiers (row ids and
parent references) are excluded from the comparison, so two merge outputs
produced from the same inputs compare equal even when their allocators were
seeded differently.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

var diffTable string

// diffTables are compared in order when --table is not given.
var diffTables = []string{
	"library_sections",
	"metadata_items",
	"media_items",
	"media_parts",
	"media_streams",
	"metadata_item_views",
	"metadata_item_settings",
}

// Internal-identifier columns, excluded from comparison.
var diffExcluded = map[string]bool{
	"id":               true,
	"parent_id":        true,
	"metadata_item_id": true,
	"media_item_id":    true,
	"media_part_id":    true,
}

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVar(&diffTable, "table", "", "Compare a single table only")
}

func runDiff(cmd *cobra.Command, args []string) error {
	aPath := normalizePath(args[0])
	bPath := normalizePath(args[1])

	a, err := db.OpenReadOnly(aPath)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := db.OpenReadOnly(bPath)
	if err != nil {
		return err
	}
	defer b.Close()

	tables := diffTables
	if diffTable != "" {
		tables = []string{diffTable}
	}

	differences := 0
	for _, table := range tables {
		aLines, err := tableLines(a, table)
		if err != nil {
			return err
		}
		bLines, err := tableLines(b, table)
		if err != nil {
			return err
		}

		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        aLines,
			B:        bLines,
			FromFile: fmt.Sprintf("%s:%s", aPath, table),
			ToFile:   fmt.Sprintf("%s:%s", bPath, table),
			Context:  2,
		})
		if err != nil {
			return fmt.Errorf("failed to diff %s: %w", table, err)
		}
		if text != "" {
			differences++
			fmt.Fprint(cmd.OutOrStdout(), text)
		}
	}

	if differences > 0 {
		return fmt.Errorf("%d table(s) differ", differences)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "row sets match")
	return nil
}

// tableLines renders a table as sorted "col=value" lines, one row per line,
// skipping internal-identifier columns. A missing table renders empty.
func tableLines(database *db.DB, table string) ([]string, error) {
	exists, err := db.TableExists(database, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	cols, err := db.TableColumns(database, table)
	if err != nil {
		return nil, err
	}
	var kept []string
	for _, c := range cols {
		if !diffExcluded[c] {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(kept))
	for i, c := range kept {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	rows, err := database.Query(fmt.Sprintf("SELECT %s FROM %q", strings.Join(quoted, ", "), table))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		vals := make([]any, len(kept))
		ptrs := make([]any, len(kept))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}

		parts := make([]string, len(kept))
		for i, c := range kept {
			parts[i] = fmt.Sprintf("%s=%s", c, renderValue(vals[i]))
		}
		lines = append(lines, strings.Join(parts, " ")+"\n")
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}

	sort.Strings(lines)
	return lines, nil
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
