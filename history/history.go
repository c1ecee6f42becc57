// Package history persists command usage for frequency-ranked recall. Every
// command the pool starts bumps a per-command counter in a small sqlite
// database under the config directory.
package history

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ByteMirror/runmux/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	command   TEXT PRIMARY KEY,
	use_count INTEGER NOT NULL DEFAULT 0,
	last_used INTEGER NOT NULL DEFAULT 0
);
`

// Entry is one remembered command with its usage stats.
type Entry struct {
	Command  string
	UseCount int
	LastUsed time.Time
}

// Store is a sqlite-backed command history. It implements the pool's
// Recorder interface. Safe for concurrent use; database/sql serializes
// access.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenDefault opens the history database in the standard config directory.
func OpenDefault() (*Store, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, "history.db"))
}

// Record bumps the use count for command and stamps it as last used at the
// given time. New commands are inserted with a count of one.
func (s *Store) Record(command string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO commands (command, use_count, last_used) VALUES (?, 1, ?)
		ON CONFLICT(command) DO UPDATE SET
			use_count = use_count + 1,
			last_used = excluded.last_used`,
		command, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// Top returns up to n entries ranked by use count, most used first, with
// recency as the tie-break.
func (s *Store) Top(n int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT command, use_count, last_used FROM commands
		ORDER BY use_count DESC, last_used DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var lastUsed int64
		if err := rows.Scan(&e.Command, &e.UseCount, &lastUsed); err != nil {
			return nil, err
		}
		e.LastUsed = time.Unix(lastUsed, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Search returns entries whose command contains the substring, ranked like
// Top. An empty query matches everything.
func (s *Store) Search(query string, n int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT command, use_count, last_used FROM commands
		WHERE command LIKE '%' || ? || '%'
		ORDER BY use_count DESC, last_used DESC
		LIMIT ?`, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to search history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var lastUsed int64
		if err := rows.Scan(&e.Command, &e.UseCount, &lastUsed); err != nil {
			return nil, err
		}
		e.LastUsed = time.Unix(lastUsed, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
