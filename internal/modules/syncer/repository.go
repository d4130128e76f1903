package syncer

import (
	"database/sql"
	"fmt"
	"time"

	"mirrortrader/internal/domain"
)

// Schema for the trade log in state.db
const Schema = `
CREATE TABLE IF NOT EXISTS trade_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id   TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	portfolio  TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	shares     INTEGER NOT NULL,
	price      REAL NOT NULL,
	success    INTEGER NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_log_cycle ON trade_log(cycle_id);
CREATE INDEX IF NOT EXISTS idx_trade_log_account ON trade_log(account_id, created_at);
`

// TradeLogEntry is one persisted execution attempt
type TradeLogEntry struct {
	ID        int64              `json:"id"`
	CycleID   string             `json:"cycle_id"`
	AccountID int64              `json:"account_id"`
	Portfolio string             `json:"portfolio"`
	Symbol    string             `json:"symbol"`
	Name      string             `json:"name"`
	Action    domain.TradeAction `json:"action"`
	Shares    int64              `json:"shares"`
	Price     float64            `json:"price"`
	Success   bool               `json:"success"`
	Detail    string             `json:"detail,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// TradeLogRepository persists execution attempts per sync cycle
type TradeLogRepository struct {
	db *sql.DB
}

// NewTradeLogRepository creates a trade log repository
func NewTradeLogRepository(db *sql.DB) *TradeLogRepository {
	return &TradeLogRepository{db: db}
}

// Record appends one execution attempt
func (r *TradeLogRepository) Record(entry TradeLogEntry) error {
	success := 0
	if entry.Success {
		success = 1
	}
	_, err := r.db.Exec(
		`INSERT INTO trade_log (cycle_id, account_id, portfolio, symbol, name, action, shares, price, success, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CycleID, entry.AccountID, entry.Portfolio, entry.Symbol, entry.Name,
		string(entry.Action), entry.Shares, entry.Price, success, entry.Detail,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record trade log entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries for an account, newest first
func (r *TradeLogRepository) Recent(accountID int64, limit int) ([]TradeLogEntry, error) {
	rows, err := r.db.Query(
		`SELECT id, cycle_id, account_id, portfolio, symbol, name, action, shares, price, success, detail, created_at
		 FROM trade_log WHERE account_id = ? ORDER BY id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade log: %w", err)
	}
	defer rows.Close()

	var entries []TradeLogEntry
	for rows.Next() {
		var entry TradeLogEntry
		var action string
		var success int
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.CycleID, &entry.AccountID, &entry.Portfolio,
			&entry.Symbol, &entry.Name, &action, &entry.Shares, &entry.Price,
			&success, &entry.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade log entry: %w", err)
		}
		entry.Action = domain.TradeAction(action)
		entry.Success = success == 1
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
