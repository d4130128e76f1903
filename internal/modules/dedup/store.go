package dedup

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Schema for the executed-command table in state.db
const Schema = `
CREATE TABLE IF NOT EXISTS executed_commands (
	key        TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
`

// SQLiteKeyStore persists executed-command keys in SQLite and mirrors them
// in memory for lock-free-fast membership checks. Put is durable before it
// returns; a crash right after a mark never replays the command.
type SQLiteKeyStore struct {
	db *sql.DB

	mu   sync.RWMutex
	keys map[string]bool
}

// NewSQLiteKeyStore creates a store and loads the existing key set
func NewSQLiteKeyStore(db *sql.DB) (*SQLiteKeyStore, error) {
	store := &SQLiteKeyStore{
		db:   db,
		keys: make(map[string]bool),
	}

	rows, err := db.Query("SELECT key FROM executed_commands")
	if err != nil {
		return nil, fmt.Errorf("failed to load executed commands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan executed command: %w", err)
		}
		store.keys[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executed commands: %w", err)
	}

	return store, nil
}

// Contains reports whether the key was already executed
func (s *SQLiteKeyStore) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[key]
}

// Put durably records the key. The database write commits before the
// in-memory set is updated.
func (s *SQLiteKeyStore) Put(key string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO executed_commands (key, created_at) VALUES (?, ?)",
		key, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist command key: %w", err)
	}

	s.mu.Lock()
	s.keys[key] = true
	s.mu.Unlock()
	return nil
}

// LoadAll returns every recorded key
func (s *SQLiteKeyStore) LoadAll() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	return keys, nil
}

// Len returns the number of recorded keys
func (s *SQLiteKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
