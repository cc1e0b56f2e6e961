package db_test

import (
	"errors"
	"testing"

	"github.com/plexmend/plexmend/internal/db"
	"github.com/plexmend/plexmend/internal/testutil"
)

func TestOpenReadOnlyMissingFile(t *testing.T) {
	_, err := db.OpenReadOnly(t.TempDir() + "/nope.db")
	if !errors.Is(err, db.ErrSourceUnreadable) {
		t.Fatalf("expected ErrSourceUnreadable, got %v", err)
	}
}

func TestOpenReadOnlyRejectsGarbage(t *testing.T) {
	tmpDir := t.TempDir()
	path := testutil.WriteGarbage(t, tmpDir, "garbage.db")

	_, err := db.OpenReadOnly(path)
	if !errors.Is(err, db.ErrSourceUnreadable) {
		t.Fatalf("expected ErrSourceUnreadable, got %v", err)
	}
}

func TestOpenReadOnlyAcceptsGoodDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	database, path := testutil.CreateSnapshot(t, tmpDir, "good.db")
	testutil.AddSection(t, database, 1, "Movies")

	ro, err := db.OpenReadOnly(path)
	if err != nil {
		t.Fatalf("failed to open good database: %v", err)
	}
	defer ro.Close()

	var name string
	if err := ro.QueryRow("SELECT name FROM library_sections WHERE id = 1").Scan(&name); err != nil {
		t.Fatalf("failed to read through read-only handle: %v", err)
	}
	if name != "Movies" {
		t.Errorf("expected Movies, got %s", name)
	}

	// Read-only means read-only.
	if _, err := ro.Exec("INSERT INTO library_sections (id, name) VALUES (2, 'TV')"); err == nil {
		t.Error("expected write through read-only handle to fail")
	}
}

func TestTableExists(t *testing.T) {
	tmpDir := t.TempDir()
	database, _ := testutil.CreateSnapshot(t, tmpDir, "test.db")

	exists, err := db.TableExists(database, "metadata_items")
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if !exists {
		t.Error("expected metadata_items to exist")
	}

	exists, err = db.TableExists(database, "no_such_table")
	if err != nil {
		t.Fatalf("failed to check missing table: %v", err)
	}
	if exists {
		t.Error("expected no_such_table to be absent")
	}
}

func TestTableColumns(t *testing.T) {
	tmpDir := t.TempDir()
	database, _ := testutil.CreateSnapshot(t, tmpDir, "test.db")

	cols, err := db.TableColumns(database, "media_parts")
	if err != nil {
		t.Fatalf("failed to read columns: %v", err)
	}

	want := []string{"id", "media_item_id", "file", "size", "duration"}
	if len(cols) != len(want) {
		t.Fatalf("expected %d columns, got %d: %v", len(want), len(cols), cols)
	}
	for i, c := range want {
		if cols[i] != c {
			t.Errorf("column %d: expected %s, got %s", i, c, cols[i])
		}
	}
}

func TestMaxID(t *testing.T) {
	tmpDir := t.TempDir()
	database, _ := testutil.CreateSnapshot(t, tmpDir, "test.db")

	max, err := db.MaxID(database, "metadata_items")
	if err != nil {
		t.Fatalf("failed on empty table: %v", err)
	}
	if max != 0 {
		t.Errorf("expected 0 for empty table, got %d", max)
	}

	testutil.AddSection(t, database, 1, "Movies")
	testutil.AddItem(t, database, 500, 1, nil, "plex://movie/a", "A")

	max, err = db.MaxID(database, "metadata_items")
	if err != nil {
		t.Fatalf("failed after insert: %v", err)
	}
	if max != 500 {
		t.Errorf("expected 500, got %d", max)
	}

	max, err = db.MaxID(database, "no_such_table")
	if err != nil {
		t.Fatalf("failed on missing table: %v", err)
	}
	if max != 0 {
		t.Errorf("expected 0 for missing table, got %d", max)
	}
}
