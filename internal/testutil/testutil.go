// Package testutil builds throwaway Plex-shaped snapshots for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/plexmend/plexmend/internal/db"
)

// Compact rendition of the Plex library schema: the tables and columns the
// merge engine touches, nothing more.
const schemaSQL = `
CREATE TABLE library_sections (
	id INTEGER PRIMARY KEY,
	name TEXT,
	section_type INTEGER
);
CREATE TABLE metadata_items (
	id INTEGER PRIMARY KEY,
	library_section_id INTEGER,
	parent_id INTEGER,
	metadata_type INTEGER,
	guid TEXT,
	title TEXT,
	year INTEGER,
	added_at INTEGER
);
CREATE TABLE media_items (
	id INTEGER PRIMARY KEY,
	library_section_id INTEGER,
	metadata_item_id INTEGER,
	size INTEGER,
	duration INTEGER,
	container TEXT
);
CREATE TABLE media_parts (
	id INTEGER PRIMARY KEY,
	media_item_id INTEGER,
	file TEXT,
	size INTEGER,
	duration INTEGER
);
CREATE TABLE media_streams (
	id INTEGER PRIMARY KEY,
	stream_type_id INTEGER,
	media_item_id INTEGER,
	media_part_id INTEGER,
	codec TEXT,
	language TEXT
);
CREATE TABLE metadata_item_views (
	id INTEGER PRIMARY KEY,
	account_id INTEGER,
	guid TEXT,
	metadata_type INTEGER,
	library_section_id INTEGER,
	title TEXT,
	viewed_at INTEGER
);
CREATE TABLE metadata_item_settings (
	id INTEGER PRIMARY KEY,
	account_id INTEGER,
	guid TEXT,
	rating REAL,
	view_offset INTEGER,
	view_count INTEGER,
	last_viewed_at INTEGER
);
`

// CreateSnapshot creates a fresh snapshot database with the test schema and
// returns its open handle and path. The handle closes on test cleanup.
func CreateSnapshot(t *testing.T, dir, name string) (*db.DB, string) {
	t.Helper()

	path := filepath.Join(dir, name)
	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("failed to create snapshot %s: %v", name, err)
	}
	if _, err := database.Exec(schemaSQL); err != nil {
		database.Close()
		t.Fatalf("failed to create schema in %s: %v", name, err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database, path
}

// WriteGarbage writes a file that is not a SQLite database.
func WriteGarbage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("this is not a database"), 0644); err != nil {
		t.Fatalf("failed to write garbage file: %v", err)
	}
	return path
}

// AddSection inserts a library section.
func AddSection(t *testing.T, database *db.DB, id int64, name string) {
	t.Helper()
	_, err := database.Exec(
		"INSERT INTO library_sections (id, name, section_type) VALUES (?, ?, 1)", id, name)
	if err != nil {
		t.Fatalf("failed to insert section %d: %v", id, err)
	}
}

// AddItem inserts a metadata item. parent may be nil.
func AddItem(t *testing.T, database *db.DB, id, sectionID int64, parent any, guid, title string) {
	t.Helper()
	_, err := database.Exec(`
		INSERT INTO metadata_items (id, library_section_id, parent_id, metadata_type, guid, title, year, added_at)
		VALUES (?, ?, ?, 1, ?, ?, 2024, 1700000000)
	`, id, sectionID, parent, guid, title)
	if err != nil {
		t.Fatalf("failed to insert item %s: %v", guid, err)
	}
}

// AddMediaItem inserts a media item under a metadata item.
func AddMediaItem(t *testing.T, database *db.DB, id, sectionID, metadataItemID int64) {
	t.Helper()
	_, err := database.Exec(`
		INSERT INTO media_items (id, library_section_id, metadata_item_id, size, duration, container)
		VALUES (?, ?, ?, 1000, 5400000, 'mkv')
	`, id, sectionID, metadataItemID)
	if err != nil {
		t.Fatalf("failed to insert media item %d: %v", id, err)
	}
}

// AddMediaPart inserts a media part under a media item.
func AddMediaPart(t *testing.T, database *db.DB, id, mediaItemID int64, file string) {
	t.Helper()
	_, err := database.Exec(`
		INSERT INTO media_parts (id, media_item_id, file, size, duration)
		VALUES (?, ?, ?, 1000, 5400000)
	`, id, mediaItemID, file)
	if err != nil {
		t.Fatalf("failed to insert media part %d: %v", id, err)
	}
}

// AddMediaStream inserts a media stream under a media item and part.
// mediaPartID may be nil.
func AddMediaStream(t *testing.T, database *db.DB, id, mediaItemID int64, mediaPartID any, codec string) {
	t.Helper()
	_, err := database.Exec(`
		INSERT INTO media_streams (id, stream_type_id, media_item_id, media_part_id, codec, language)
		VALUES (?, 1, ?, ?, ?, 'eng')
	`, id, mediaItemID, mediaPartID, codec)
	if err != nil {
		t.Fatalf("failed to insert media stream %d: %v", id, err)
	}
}

// AddView inserts a watch history event.
func AddView(t *testing.T, database *db.DB, accountID int64, guid string, viewedAt int64) {
	t.Helper()
	_, err := database.Exec(`
		INSERT INTO metadata_item_views (account_id, guid, metadata_type, library_section_id, title, viewed_at)
		VALUES (?, ?, 1, 1, 'watched', ?)
	`, accountID, guid, viewedAt)
	if err != nil {
		t.Fatalf("failed to insert view for %s: %v", guid, err)
	}
}

// AddSetting inserts a per-item settings row.
func AddSetting(t *testing.T, database *db.DB, accountID int64, guid string, viewCount int64) {
	t.Helper()
	_, err := database.Exec(`
		INSERT INTO metadata_item_settings (account_id, guid, rating, view_offset, view_count, last_viewed_at)
		VALUES (?, ?, 8.0, 0, ?, 1700000000)
	`, accountID, guid, viewCount)
	if err != nil {
		t.Fatalf("failed to insert setting for %s: %v", guid, err)
	}
}

// CountRows returns the number of rows in a table.
func CountRows(t *testing.T, database *db.DB, table string) int {
	t.Helper()
	var n int
	if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}
