package merge

import (
	"fmt"
	"strings"

	"github.com/plexmend/plexmend/internal/db"
)

// Chunk size for IN clauses, kept under SQLite's parameter limit.
const inChunk = 500

type itemRow struct {
	vals       []any
	id         int64
	guid       string
	sectionID  int64
	hasSection bool
	parentID   int64
	hasParent  bool
}

// mergeItems copies net-new catalog items and their media subtrees from the
// newer snapshot. An item is net-new when its guid is absent from the base;
// it is copied only when its library section exists in the base. The copy is
// strictly top-down: metadata_items (parents before children), then
// media_items, media_parts, media_streams, each with its parent reference
// rewritten into the output's identifier space.
func (r *run) mergeItems(newer db.Executor) error {
	inNewer, err := db.TableExists(newer, "metadata_items")
	if err != nil {
		return err
	}
	inOut, err := db.TableExists(r.out, "metadata_items")
	if err != nil {
		return err
	}
	if !inNewer || !inOut {
		r.sink.Line("metadata_items missing, skipping item merge")
		return nil
	}

	newerCols, err := db.TableColumns(newer, "metadata_items")
	if err != nil {
		return err
	}
	outCols, err := db.TableColumns(r.out, "metadata_items")
	if err != nil {
		return err
	}
	cols := intersectColumns(newerCols, outCols, nil)

	idIdx := columnIndex(cols, "id")
	guidIdx := columnIndex(cols, "guid")
	sectionIdx := columnIndex(cols, "library_section_id")
	parentIdx := columnIndex(cols, "parent_id")
	if idIdx < 0 || guidIdx < 0 || sectionIdx < 0 {
		r.sink.Line("metadata_items missing id, guid or library_section_id, skipping item merge")
		return nil
	}

	toAdd, idToGUID, err := r.loadNetNewItems(newer, cols, idIdx, guidIdx, sectionIdx, parentIdx)
	if err != nil {
		return err
	}
	if len(toAdd) == 0 {
		return nil
	}

	copied, err := r.copyItemRows(toAdd, idToGUID, cols, idIdx, parentIdx)
	if err != nil {
		return err
	}
	if len(copied) == 0 {
		return nil
	}

	mediaIDs, n, err := r.copyChildren(newer, "media_items", "metadata_item_id", "metadata_items", copied, nil)
	if err != nil {
		return err
	}
	r.report.MediaItems = n

	_, n, err = r.copyChildren(newer, "media_parts", "media_item_id", "media_items", mediaIDs, nil)
	if err != nil {
		return err
	}
	r.report.MediaParts = n

	// Streams hang off media items in the source query, but their true
	// parent is the part; both references get rewritten.
	_, n, err = r.copyChildren(newer, "media_streams", "media_item_id", "media_items", mediaIDs,
		map[string]string{"media_part_id": "media_parts"})
	if err != nil {
		return err
	}
	r.report.MediaStreams = n

	return nil
}

// loadNetNewItems reads every metadata_items row from the newer snapshot
// and keeps those whose guid is absent from the base. Duplicate guids
// within the newer snapshot keep the first row only.
func (r *run) loadNetNewItems(newer db.Executor, cols []string, idIdx, guidIdx, sectionIdx, parentIdx int) ([]itemRow, map[int64]string, error) {
	rows, err := newer.Query(fmt.Sprintf("SELECT %s FROM metadata_items", quoteColumns(cols)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read newer metadata_items: %w", err)
	}
	defer rows.Close()

	var toAdd []itemRow
	idToGUID := make(map[int64]string)
	seenGUIDs := make(map[string]bool)

	for rows.Next() {
		vals, err := scanValues(rows, len(cols))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan newer metadata_items row: %w", err)
		}

		id, ok := asInt64(vals[idIdx])
		if !ok {
			continue
		}
		guid := asString(vals[guidIdx])
		idToGUID[id] = guid

		if guid == "" || r.index.GUIDExists(guid) || seenGUIDs[guid] {
			continue
		}
		seenGUIDs[guid] = true
		r.report.Items.Seen++

		row := itemRow{vals: vals, id: id, guid: guid}
		row.sectionID, row.hasSection = asInt64(vals[sectionIdx])
		if parentIdx >= 0 {
			row.parentID, row.hasParent = asInt64(vals[parentIdx])
		}
		toAdd = append(toAdd, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate newer metadata_items: %w", err)
	}
	return toAdd, idToGUID, nil
}

// copyItemRows inserts net-new metadata_items in parent-before-child order,
// remapping ids and parent references. Items whose section is unknown to
// the base are skipped, and the skip propagates to their descendants in the
// to-add set: a subtree copies as a unit or not at all. Returns the old ids
// of the copied rows.
func (r *run) copyItemRows(toAdd []itemRow, idToGUID map[int64]string, cols []string, idIdx, parentIdx int) ([]int64, error) {
	inSet := make(map[int64]bool, len(toAdd))
	for _, row := range toAdd {
		inSet[row.id] = true
	}

	copied := make(map[int64]bool)
	skipped := make(map[int64]bool)
	var copiedIDs []int64
	insertSQL := buildInsert("metadata_items", cols)

	remaining := len(toAdd)
	for remaining > 0 {
		progress := 0
		for _, row := range toAdd {
			if copied[row.id] || skipped[row.id] {
				continue
			}
			if row.hasParent && inSet[row.parentID] && !copied[row.parentID] && !skipped[row.parentID] {
				// parent not decided yet, retry next pass
				continue
			}

			progress++
			remaining--

			if row.hasParent && skipped[row.parentID] {
				skipped[row.id] = true
				r.report.Items.UnknownSection++
				continue
			}
			if !row.hasSection || !r.index.SectionExists(row.sectionID) {
				skipped[row.id] = true
				r.report.Items.UnknownSection++
				r.sink.Line("skipping item %s: library section %d not in base", row.guid, row.sectionID)
				continue
			}

			newID, err := r.alloc.Remap("metadata_items", row.id)
			if err != nil {
				return nil, err
			}
			row.vals[idIdx] = newID

			if parentIdx >= 0 && row.hasParent {
				parent, err := r.resolveItemParent(row.parentID, inSet, idToGUID)
				if err != nil {
					return nil, err
				}
				row.vals[parentIdx] = parent
			}

			if !r.opts.DryRun {
				if _, err := r.out.Exec(insertSQL, row.vals...); err != nil {
					return nil, fmt.Errorf("failed to insert metadata_items row for guid %s: %w", row.guid, err)
				}
			}
			copied[row.id] = true
			copiedIDs = append(copiedIDs, row.id)
			r.report.Items.Merged++
		}

		if progress == 0 {
			// Unresolvable parent chains (cycles, or parents recovery
			// lost). Their subtrees are not copied.
			for _, row := range toAdd {
				if !copied[row.id] && !skipped[row.id] {
					r.report.Items.Orphaned++
					r.sink.Line("skipping item %s: unresolvable parent chain (parent id %d)", row.guid, row.parentID)
				}
			}
			break
		}
	}

	return copiedIDs, nil
}

// resolveItemParent rewrites a catalog item's parent reference. A parent
// that is itself being copied resolves through the allocator; a parent
// already present in the base resolves to the base row id via its guid.
// Anything else becomes NULL rather than a dangling source-space id.
func (r *run) resolveItemParent(oldParent int64, inSet map[int64]bool, idToGUID map[int64]string) (any, error) {
	if inSet[oldParent] {
		id, err := r.alloc.Remap("metadata_items", oldParent)
		if err != nil {
			return nil, err
		}
		return id, nil
	}
	if guid := idToGUID[oldParent]; guid != "" {
		if baseID, ok := r.index.IDForGUID(guid); ok {
			return baseID, nil
		}
	}
	return nil, nil
}

// copyChildren copies rows of a child table whose parent column references
// one of parentIDs (old identifier space). The row id and the parent
// reference are remapped; extraRemap names additional columns rewritten
// through an already-populated table mapping, or set NULL when the referent
// was not copied.
func (r *run) copyChildren(newer db.Executor, table, parentCol, parentTable string, parentIDs []int64, extraRemap map[string]string) ([]int64, int, error) {
	if len(parentIDs) == 0 {
		return nil, 0, nil
	}

	inNewer, err := db.TableExists(newer, table)
	if err != nil {
		return nil, 0, err
	}
	inOut, err := db.TableExists(r.out, table)
	if err != nil {
		return nil, 0, err
	}
	if !inNewer || !inOut {
		r.sink.Line("%s missing, skipping", table)
		return nil, 0, nil
	}

	newerCols, err := db.TableColumns(newer, table)
	if err != nil {
		return nil, 0, err
	}
	outCols, err := db.TableColumns(r.out, table)
	if err != nil {
		return nil, 0, err
	}
	cols := intersectColumns(newerCols, outCols, nil)

	idIdx := columnIndex(cols, "id")
	parentIdx := columnIndex(cols, parentCol)
	if idIdx < 0 || parentIdx < 0 {
		r.sink.Line("%s missing id or %s, skipping", table, parentCol)
		return nil, 0, nil
	}

	extraIdxs := make(map[int]string)
	for col, tbl := range extraRemap {
		if idx := columnIndex(cols, col); idx >= 0 {
			extraIdxs[idx] = tbl
		}
	}

	insertSQL := buildInsert(table, cols)
	var childIDs []int64
	count := 0

	for start := 0; start < len(parentIDs); start += inChunk {
		end := start + inChunk
		if end > len(parentIDs) {
			end = len(parentIDs)
		}
		chunk := parentIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := newer.Query(fmt.Sprintf(
			"SELECT %s FROM %q WHERE %q IN (%s)",
			quoteColumns(cols), table, parentCol, placeholders), args...)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s from newer snapshot: %w", table, err)
		}

		for rows.Next() {
			vals, err := scanValues(rows, len(cols))
			if err != nil {
				rows.Close()
				return nil, 0, fmt.Errorf("failed to scan %s row: %w", table, err)
			}

			oldID, ok := asInt64(vals[idIdx])
			if !ok {
				continue
			}
			oldParent, ok := asInt64(vals[parentIdx])
			if !ok {
				continue
			}
			newParent, ok := r.alloc.Mapped(parentTable, oldParent)
			if !ok {
				continue
			}

			newID, err := r.alloc.Remap(table, oldID)
			if err != nil {
				rows.Close()
				return nil, 0, err
			}
			vals[idIdx] = newID
			vals[parentIdx] = newParent

			for idx, tbl := range extraIdxs {
				old, ok := asInt64(vals[idx])
				if !ok || old == 0 {
					continue
				}
				if mapped, ok := r.alloc.Mapped(tbl, old); ok {
					vals[idx] = mapped
				} else {
					vals[idx] = nil
				}
			}

			if !r.opts.DryRun {
				if _, err := r.out.Exec(insertSQL, vals...); err != nil {
					rows.Close()
					return nil, 0, fmt.Errorf("failed to insert %s row (old id %d): %w", table, oldID, err)
				}
			}
			childIDs = append(childIDs, oldID)
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to iterate %s: %w", table, err)
		}
		rows.Close()
	}

	return childIDs, count, nil
}
