package merge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/plexmend/plexmend/internal/db"
)

// mergeHistory appends the newer snapshot's watch history rows whose guid
// resolves against the base. Rows already present in the output under the
// history dedup key are not re-inserted.
func (r *run) mergeHistory(newer db.Executor) error {
	return r.appendByGUID(newer, "metadata_item_views", r.opts.HistoryDedupKey, false, &r.report.Views)
}

// mergeSettings applies the symmetric rule to per-item settings. The newer
// snapshot is semantically ahead, so on a dedup-key match the newer row
// replaces the base one.
func (r *run) mergeSettings(newer db.Executor) error {
	return r.appendByGUID(newer, "metadata_item_settings", r.opts.SettingsDedupKey, true, &r.report.Settings)
}

// appendByGUID copies rows of one guid-keyed table from the newer snapshot
// into the output. Columns are matched by name across the two schemas; the
// row id and any internal-identifier reference are never carried over.
// When replace is set, a dedup-key hit deletes the existing output row and
// inserts the newer one instead of skipping.
func (r *run) appendByGUID(newer db.Executor, table string, dedupKey []string, replace bool, counts *Counts) error {
	inNewer, err := db.TableExists(newer, table)
	if err != nil {
		return err
	}
	inOut, err := db.TableExists(r.out, table)
	if err != nil {
		return err
	}
	if !inNewer || !inOut {
		r.sink.Line("%s missing from %s, skipping", table,
			map[bool]string{true: "output", false: "newer snapshot"}[inNewer])
		return nil
	}

	newerCols, err := db.TableColumns(newer, table)
	if err != nil {
		return err
	}
	outCols, err := db.TableColumns(r.out, table)
	if err != nil {
		return err
	}
	cols := intersectColumns(newerCols, outCols, map[string]bool{
		"id":               true,
		"metadata_item_id": true,
	})

	guidIdx := columnIndex(cols, "guid")
	if guidIdx < 0 {
		r.sink.Line("%s has no guid column, skipping", table)
		return nil
	}

	keyIdxs := make([]int, 0, len(dedupKey))
	for _, keyCol := range dedupKey {
		idx := columnIndex(cols, keyCol)
		if idx < 0 {
			return fmt.Errorf("dedup column %s not present in %s", keyCol, table)
		}
		keyIdxs = append(keyIdxs, idx)
	}

	existing, err := loadKeySet(r.out, table, dedupKey)
	if err != nil {
		return err
	}

	insertSQL := buildInsert(table, cols)
	deleteSQL := buildKeyDelete(table, dedupKey)

	rows, err := newer.Query(fmt.Sprintf("SELECT %s FROM %q", quoteColumns(cols), table))
	if err != nil {
		return fmt.Errorf("failed to read %s from newer snapshot: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		vals, err := scanValues(rows, len(cols))
		if err != nil {
			return fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		counts.Seen++

		guid := asString(vals[guidIdx])
		if guid == "" || !r.index.GUIDExists(guid) {
			counts.Orphaned++
			continue
		}

		key := valueKey(vals, keyIdxs)
		if existing[key] {
			if !replace {
				counts.Duplicate++
				continue
			}
			if !r.opts.DryRun {
				keyVals := make([]any, len(keyIdxs))
				for i, idx := range keyIdxs {
					keyVals[i] = vals[idx]
				}
				if _, err := r.out.Exec(deleteSQL, keyVals...); err != nil {
					return fmt.Errorf("failed to replace %s row for guid %s: %w", table, guid, err)
				}
			}
			counts.Replaced++
		}

		if !r.opts.DryRun {
			if _, err := r.out.Exec(insertSQL, vals...); err != nil {
				return fmt.Errorf("failed to insert %s row for guid %s: %w", table, guid, err)
			}
		}
		existing[key] = true
		counts.Merged++
	}
	return rows.Err()
}

// intersectColumns keeps src columns that also exist in dst, in src order,
// dropping excluded names.
func intersectColumns(src, dst []string, excluded map[string]bool) []string {
	dstSet := make(map[string]bool, len(dst))
	for _, c := range dst {
		dstSet[c] = true
	}
	var cols []string
	for _, c := range src {
		if excluded[c] || !dstSet[c] {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return strings.Join(quoted, ", ")
}

func buildInsert(table string, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	return fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, quoteColumns(cols), placeholders)
}

// buildKeyDelete uses IS so NULL key components still match.
func buildKeyDelete(table string, keyCols []string) string {
	conds := make([]string, len(keyCols))
	for i, c := range keyCols {
		conds[i] = fmt.Sprintf("%q IS ?", c)
	}
	return fmt.Sprintf("DELETE FROM %q WHERE %s", table, strings.Join(conds, " AND "))
}

// loadKeySet reads the dedup-key projection of every row already in the
// output table.
func loadKeySet(exec db.Executor, table string, keyCols []string) (map[string]bool, error) {
	rows, err := exec.Query(fmt.Sprintf("SELECT %s FROM %q", quoteColumns(keyCols), table))
	if err != nil {
		return nil, fmt.Errorf("failed to read existing %s keys: %w", table, err)
	}
	defer rows.Close()

	keyIdxs := make([]int, len(keyCols))
	for i := range keyCols {
		keyIdxs[i] = i
	}

	set := make(map[string]bool)
	for rows.Next() {
		vals, err := scanValues(rows, len(keyCols))
		if err != nil {
			return nil, fmt.Errorf("failed to scan existing %s key: %w", table, err)
		}
		set[valueKey(vals, keyIdxs)] = true
	}
	return set, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanValues(rows rowScanner, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

// valueKey builds a canonical string for the selected value positions.
// Scalar types that compare equal in SQLite (1 vs 1.0 vs "1") are kept
// distinct on purpose: the dedup key compares stored rows, not coercions.
func valueKey(vals []any, idxs []int) string {
	parts := make([]string, len(idxs))
	for i, idx := range idxs {
		parts[i] = canonicalValue(vals[idx])
	}
	return strings.Join(parts, "\x1f")
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case []byte:
		return "s:" + string(t)
	case string:
		return "s:" + t
	case int64:
		return "i:" + strconv.FormatInt(t, 10)
	case float64:
		return "f:" + strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(t)
	default:
		return fmt.Sprintf("v:%v", t)
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
