package resumestate

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Index is an optional SQLite-backed mirror of a State's
// CompletedArchivePaths, used purely as a fast existence check for very
// large manifests. The JSON state file remains the single source of
// truth: Index is always rebuilt from it, never read instead of it.
type Index struct {
	rawDB *sql.DB
}

// OpenIndex opens (creating if necessary) a SQLite database at dbPath and
// prepares its schema.
func OpenIndex(dbPath string) (*Index, error) {
	rawDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("resumestate: open index: %w", err)
	}
	idx := &Index{rawDB: rawDB}
	if err := idx.init(); err != nil {
		rawDB.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) init() error {
	_, err := idx.rawDB.Exec(
		"CREATE TABLE IF NOT EXISTS completed_archive_paths (" +
			"archive_path TEXT PRIMARY KEY" +
			")")
	if err != nil {
		return fmt.Errorf("resumestate: init index schema: %w", err)
	}
	return nil
}

// Rebuild truncates the index and repopulates it from state's current
// CompletedArchivePaths, under a single transaction.
func (idx *Index) Rebuild(state *State) error {
	state.mu.Lock()
	paths := append([]string{}, state.CompletedArchivePaths...)
	state.mu.Unlock()

	tx, err := idx.rawDB.Begin()
	if err != nil {
		return fmt.Errorf("resumestate: rebuild index: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM completed_archive_paths"); err != nil {
		tx.Rollback()
		return fmt.Errorf("resumestate: clear index: %w", err)
	}
	stmt, err := tx.Prepare("INSERT OR IGNORE INTO completed_archive_paths (archive_path) VALUES (?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("resumestate: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range paths {
		if _, err := stmt.Exec(p); err != nil {
			tx.Rollback()
			return fmt.Errorf("resumestate: index insert: %w", err)
		}
	}
	return tx.Commit()
}

// Contains reports whether archivePath is present in the index. Lookups
// are case-sensitive (Rebuild stores paths exactly as
// State.CompletedArchivePaths holds them), so a false here is not proof
// of absence under the store's case-insensitive semantics — callers must
// fall back to State's own case-insensitive check on a miss.
func (idx *Index) Contains(archivePath string) (bool, error) {
	row := idx.rawDB.QueryRow("SELECT 1 FROM completed_archive_paths WHERE archive_path = ?", archivePath)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resumestate: index lookup: %w", err)
	}
	return true, nil
}

// Add records a single newly-completed archive path without a full
// rebuild, used as each upload in Restore's parallel phase confirms.
func (idx *Index) Add(archivePath string) error {
	_, err := idx.rawDB.Exec("INSERT OR IGNORE INTO completed_archive_paths (archive_path) VALUES (?)", archivePath)
	if err != nil {
		return fmt.Errorf("resumestate: index add: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.rawDB.Close()
}
