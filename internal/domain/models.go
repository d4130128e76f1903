// Package domain provides core domain models and types.
package domain

import "time"

// TradeAction represents the direction of a trade instruction
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// InstrumentClass represents the lot-size class of an instrument
type InstrumentClass string

const (
	// ClassEquity trades in 100-share lots
	ClassEquity InstrumentClass = "EQUITY"
	// ClassConvertibleBond trades in 10-unit lots
	ClassConvertibleBond InstrumentClass = "CONVERTIBLE_BOND"
)

// LotSize returns the minimum tradable increment for the class
func (c InstrumentClass) LotSize() int64 {
	if c == ClassConvertibleBond {
		return 10
	}
	return 100
}

// Holding is an immutable snapshot of a position in the simulated account.
// Owned by the reconciliation run that fetched it; never mutated in place.
type Holding struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Shares       int64   `json:"shares"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
}

// TargetAllocation is one instrument's weight in the reference portfolio.
// Instrument weights plus the cash weight sum to ~100.
type TargetAllocation struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	WeightPercent float64 `json:"weight_percent"`
}

// ResolvedTarget is a target allocation converted to an integer share count.
// Created fresh each reconciliation cycle, never persisted.
type ResolvedTarget struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	TargetShares  int64   `json:"target_shares"`
	TargetValue   float64 `json:"target_value"`
	Price         float64 `json:"price"`
	WeightPercent float64 `json:"weight_percent"`
}

// TradeInstruction is a single buy or sell produced by the planner or the
// follower projection. Consumed exactly once by the dispatcher, or discarded
// when expired.
type TradeInstruction struct {
	Portfolio string      `json:"portfolio"` // Reference portfolio code this originated from
	Symbol    string      `json:"symbol"`
	Name      string      `json:"name"`
	Action    TradeAction `json:"action"`
	Shares    int64       `json:"shares"`
	Price     float64     `json:"price"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"` // Originating time, drives expiry and the dedup key
}

// AccountSnapshot summarizes the simulated account
type AccountSnapshot struct {
	AccountID   int64   `json:"account_id"`
	TotalAssets float64 `json:"total_assets"`
	Cash        float64 `json:"cash"`
	MarketValue float64 `json:"market_value"`
}

// Quote is a point-in-time price lookup result
type Quote struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Price    float64         `json:"price"`
	Class    InstrumentClass `json:"class"`
	Tradable bool            `json:"tradable"`
}

// RebalanceEvent is one entry of the reference portfolio's rebalance history
type RebalanceEvent struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Changes   []WeightChange `json:"changes"`
}

// WeightChange is one instrument's weight movement within a rebalance event
type WeightChange struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	PrevWeight float64 `json:"prev_weight"`
	Weight     float64 `json:"weight"`
	Price      float64 `json:"price"`      // Reference price at rebalance time; 0 when unavailable
	CreatedAt  int64   `json:"created_at"` // Unix milliseconds
}

// Transaction is an executed trade reported by the gateway
type Transaction struct {
	Symbol   string      `json:"symbol"`
	Name     string      `json:"name"`
	Action   TradeAction `json:"action"`
	Shares   int64       `json:"shares"`
	Price    float64     `json:"price"`
	TradedAt time.Time   `json:"traded_at"`
}

// SyncReport summarizes one reconciliation cycle
type SyncReport struct {
	CycleID            string          `json:"cycle_id"`
	AccountID          int64           `json:"account_id"`
	Portfolio          string          `json:"portfolio"`
	TotalAssets        float64         `json:"total_assets"`
	Buys               []ExecutedTrade `json:"buys"`
	Sells              []ExecutedTrade `json:"sells"`
	Skipped            []SkippedTarget `json:"skipped"`
	Errors             []string        `json:"errors"`
	BuyCount           int             `json:"buy_count"`
	SellCount          int             `json:"sell_count"`
	ErrorCount         int             `json:"error_count"`
	RecentTransactions []Transaction   `json:"recent_transactions,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         time.Time       `json:"finished_at"`
}

// ExecutedTrade is one instruction's execution outcome within a report
type ExecutedTrade struct {
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name"`
	Shares  int64   `json:"shares"`
	Price   float64 `json:"price"`
	Reason  string  `json:"reason,omitempty"`
	Success bool    `json:"success"`
}

// SkippedTarget is a target the cycle produced no instruction for, either
// because its quote could not be resolved or because the holding already
// matches the target share count
type SkippedTarget struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
