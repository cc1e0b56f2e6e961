// Package remap issues collision-free row identifiers for copied subtrees.
// An Allocator is scoped to a single merge run and discarded with it.
package remap

import (
	"errors"
	"fmt"

	"github.com/plexmend/plexmend/internal/db"
)

// ErrIdentifierCollision signals a broken allocator invariant. It indicates
// a logic bug and is never recovered from.
var ErrIdentifierCollision = errors.New("identifier collision")

type tableKey struct {
	table string
	oldID int64
}

// Allocator hands out identifiers strictly above the ids already present in
// the output database, one counter per table, and remembers every
// (table, old id) -> new id assignment made during the run.
type Allocator struct {
	next    map[string]int64
	mapping map[tableKey]int64
	issued  map[string]map[int64]bool
}

// NewAllocator seeds counters from the current MAX(id) of each table in the
// output database. The scan happens once; the allocator never re-queries.
func NewAllocator(exec db.Executor, tables []string) (*Allocator, error) {
	a := &Allocator{
		next:    make(map[string]int64, len(tables)),
		mapping: make(map[tableKey]int64),
		issued:  make(map[string]map[int64]bool, len(tables)),
	}
	for _, table := range tables {
		max, err := db.MaxID(exec, table)
		if err != nil {
			return nil, fmt.Errorf("failed to seed allocator for %s: %w", table, err)
		}
		a.next[table] = max + 1
		a.issued[table] = make(map[int64]bool)
	}
	return a, nil
}

// Allocate returns the next identifier for a table. Identifiers are strictly
// increasing per table and never reused within the run.
func (a *Allocator) Allocate(table string) (int64, error) {
	next, ok := a.next[table]
	if !ok {
		return 0, fmt.Errorf("allocator not seeded for table %s", table)
	}
	if a.issued[table][next] {
		return 0, fmt.Errorf("%w: table %s id %d already issued", ErrIdentifierCollision, table, next)
	}
	a.issued[table][next] = true
	a.next[table] = next + 1
	return next, nil
}

// Remap returns the output identifier assigned to (table, oldID),
// allocating on first call. Subsequent calls with the same pair return the
// same value, so a child copied after its parent resolves to the parent's
// assigned id.
func (a *Allocator) Remap(table string, oldID int64) (int64, error) {
	key := tableKey{table: table, oldID: oldID}
	if id, ok := a.mapping[key]; ok {
		return id, nil
	}
	id, err := a.Allocate(table)
	if err != nil {
		return 0, err
	}
	a.mapping[key] = id
	return id, nil
}

// Mapped reports whether (table, oldID) has already been assigned, without
// allocating.
func (a *Allocator) Mapped(table string, oldID int64) (int64, bool) {
	id, ok := a.mapping[tableKey{table: table, oldID: oldID}]
	return id, ok
}

// Allocated returns how many identifiers have been issued for a table.
func (a *Allocator) Allocated(table string) int {
	return len(a.issued[table])
}
