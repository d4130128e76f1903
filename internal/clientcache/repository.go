// Package clientcache provides persistent caching for quote lookups.
// Quotes are stored as JSON blobs with expiration timestamps so repeated
// reconciliation cycles don't hammer the search endpoint.
package clientcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mirrortrader/internal/domain"
)

// Schema for cache.db
const Schema = `
CREATE TABLE IF NOT EXISTS quotes (
	symbol     TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_expires ON quotes(expires_at);
`

// Repository provides cache operations for quote data
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new quote cache repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// StoreQuote saves a quote with expiration = now + ttl
func (r *Repository) StoreQuote(quote *domain.Quote, ttl time.Duration) error {
	jsonData, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()

	_, err = r.db.Exec(
		"INSERT OR REPLACE INTO quotes (symbol, data, expires_at) VALUES (?, ?, ?)",
		quote.Symbol, string(jsonData), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store quote for %s: %w", quote.Symbol, err)
	}
	return nil
}

// GetFreshQuote returns the cached quote only if it has not expired.
// Returns nil, nil on a miss.
func (r *Repository) GetFreshQuote(symbol string) (*domain.Quote, error) {
	return r.getQuote(symbol, true)
}

// GetQuote returns the cached quote regardless of expiration. Used as a
// fallback when the search endpoint fails; a stale price beats no price.
// Returns nil, nil when the symbol was never cached.
func (r *Repository) GetQuote(symbol string) (*domain.Quote, error) {
	return r.getQuote(symbol, false)
}

func (r *Repository) getQuote(symbol string, freshOnly bool) (*domain.Quote, error) {
	query := "SELECT data FROM quotes WHERE symbol = ?"
	args := []interface{}{symbol}
	if freshOnly {
		query += " AND expires_at > ?"
		args = append(args, time.Now().Unix())
	}

	var data string
	err := r.db.QueryRow(query, args...).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}

	var quote domain.Quote
	if err := json.Unmarshal([]byte(data), &quote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached quote for %s: %w", symbol, err)
	}
	return &quote, nil
}

// DeleteExpired removes all expired quotes and returns the number deleted
func (r *Repository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec("DELETE FROM quotes WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired quotes: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// Count returns the number of cached quotes
func (r *Repository) Count() (int64, error) {
	var count int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM quotes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count quotes: %w", err)
	}
	return count, nil
}
