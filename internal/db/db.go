package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// ErrSourceUnreadable indicates a snapshot that cannot be opened or fails
// its integrity check.
var ErrSourceUnreadable = errors.New("snapshot unreadable")

// DB wraps a SQLite database connection.
type DB struct {
	*sql.DB
	path string
}

// Executor is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Merge passes take an Executor so they run the same inside or outside a
// transaction.
type Executor interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Open opens a SQLite database read-write and applies pragmas.
// Foreign keys are left OFF: the merge rewrites parent references itself
// and must be able to stage rows whose parents land later in the same
// transaction.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = OFF",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	return &DB{DB: db, path: path}, nil
}

// OpenReadOnly opens a SQLite database in read-only mode and verifies it
// with PRAGMA integrity_check. A database that does not open, or does not
// report "ok", is ErrSourceUnreadable.
func OpenReadOnly(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	if result != "ok" {
		db.Close()
		return nil, fmt.Errorf("%w: %s: integrity check: %s", ErrSourceUnreadable, path, result)
	}

	return &DB{DB: db, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// TableExists reports whether a table is present in the schema.
func TableExists(exec Executor, table string) (bool, error) {
	var name string
	err := exec.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return true, nil
}

// TableColumns returns the column names of a table in declaration order.
func TableColumns(exec Executor, table string) ([]string, error) {
	rows, err := exec.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns of %s: %w", table, err)
	}
	return cols, nil
}

// MaxID returns the largest id in a table, or 0 when the table is empty or
// absent.
func MaxID(exec Executor, table string) (int64, error) {
	exists, err := TableExists(exec, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var max int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %q", table)
	if err := exec.QueryRow(query).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to compute max id for %s: %w", table, err)
	}
	return max, nil
}
