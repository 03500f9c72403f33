package kv

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is a Store backed by an embedded SQLite database in WAL mode.
// One database file holds the state for any number of repositories;
// keys are already namespaced per repository by the caller.
type SQLite struct {
	conn   *sql.DB
	path   string
	notify notifier
}

// OpenSQLite opens (or creates) the database at path.
//
// The caller must Close the store when done.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// WAL allows concurrent readers while a sync pass writes.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLite{conn: conn, path: path}, nil
}

// Get implements Store.
func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLite) Set(key, value string) error {
	_, err := s.conn.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.notify.publish(key)
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	s.notify.publish(key)
	return nil
}

// Keys implements Store.
func (s *SQLite) Keys(prefix string) ([]string, error) {
	rows, err := s.conn.Query(
		`SELECT key FROM kv WHERE key >= ? AND key < ? ORDER BY key`,
		prefix, prefix+"\xff",
	)
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Subscribe implements Store.
func (s *SQLite) Subscribe(prefix string, fn func(key string)) func() {
	return s.notify.subscribe(prefix, fn)
}

// Close implements Store. A WAL checkpoint runs before closing so all
// state reaches the main database file.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: wal checkpoint: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
