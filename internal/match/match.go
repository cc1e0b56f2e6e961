// Package match builds the natural-key index over the base snapshot that
// gates every merge decision. Matching is by guid, never by row id: the two
// snapshots' identifier spaces are unrelated.
package match

import (
	"fmt"

	"github.com/plexmend/plexmend/internal/db"
)

// Index answers membership queries against the base snapshot. It is built
// once per run with a single scan of each table.
type Index struct {
	guids    map[string]int64
	sections map[int64]bool
}

// BuildIndex scans the base snapshot's metadata_items and library_sections.
// Rows with an empty guid are ignored; on duplicate guids the first row wins
// and the rest are skipped, never treated as an error. A base that cannot be
// read is fatal to the run.
func BuildIndex(exec db.Executor) (*Index, error) {
	idx := &Index{
		guids:    make(map[string]int64),
		sections: make(map[int64]bool),
	}

	itemsExist, err := db.TableExists(exec, "metadata_items")
	if err != nil {
		return nil, err
	}
	if itemsExist {
		rows, err := exec.Query("SELECT id, guid FROM metadata_items WHERE guid IS NOT NULL AND guid != ''")
		if err != nil {
			return nil, fmt.Errorf("failed to scan base metadata_items: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			var guid string
			if err := rows.Scan(&id, &guid); err != nil {
				return nil, fmt.Errorf("failed to scan base guid: %w", err)
			}
			if _, ok := idx.guids[guid]; ok {
				continue
			}
			idx.guids[guid] = id
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate base metadata_items: %w", err)
		}
	}

	sectionsExist, err := db.TableExists(exec, "library_sections")
	if err != nil {
		return nil, err
	}
	if sectionsExist {
		rows, err := exec.Query("SELECT id FROM library_sections")
		if err != nil {
			return nil, fmt.Errorf("failed to scan base library_sections: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("failed to scan base section id: %w", err)
			}
			idx.sections[id] = true
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate base library_sections: %w", err)
		}
	}

	return idx, nil
}

// GUIDExists reports whether a guid is present in the base snapshot.
func (idx *Index) GUIDExists(guid string) bool {
	_, ok := idx.guids[guid]
	return ok
}

// IDForGUID returns the base snapshot's row id for a guid.
func (idx *Index) IDForGUID(guid string) (int64, bool) {
	id, ok := idx.guids[guid]
	return id, ok
}

// SectionExists reports whether a library section id is present in the base
// snapshot.
func (idx *Index) SectionExists(id int64) bool {
	return idx.sections[id]
}

// GUIDCount returns the number of distinct guids indexed.
func (idx *Index) GUIDCount() int {
	return len(idx.guids)
}

// SectionCount returns the number of library sections indexed.
func (idx *Index) SectionCount() int {
	return len(idx.sections)
}
