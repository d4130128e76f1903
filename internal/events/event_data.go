package events

// EventData is the interface that all typed event payloads implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ChangeDetectedData contains data for ChangeDetected events
type ChangeDetectedData struct {
	Portfolio      string  `json:"portfolio"`
	Trigger        string  `json:"trigger"` // "rebalance_id" or "weight_drift"
	OldRebalanceID int64   `json:"old_rebalance_id"`
	NewRebalanceID int64   `json:"new_rebalance_id"`
	MaxDrift       float64 `json:"max_drift"`
	MeanDrift      float64 `json:"mean_drift"`
}

// EventType returns the event type for ChangeDetectedData
func (d *ChangeDetectedData) EventType() EventType {
	return ChangeDetected
}

// SignalQueuedData contains data for SignalQueued events
type SignalQueuedData struct {
	Portfolio string  `json:"portfolio"`
	Symbol    string  `json:"symbol"`
	Action    string  `json:"action"`
	Shares    int64   `json:"shares"`
	Price     float64 `json:"price"`
	Reason    string  `json:"reason,omitempty"`
}

// EventType returns the event type for SignalQueuedData
func (d *SignalQueuedData) EventType() EventType {
	return SignalQueued
}

// TradeEventData contains data for TradeExecuted, TradeSkipped and
// TradeFailed events; Detail carries the skip reason or failure message.
type TradeEventData struct {
	Kind      EventType `json:"-"`
	Portfolio string    `json:"portfolio"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Shares    int64     `json:"shares"`
	Price     float64   `json:"price"`
	CycleID   string    `json:"cycle_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// EventType returns the event type for TradeEventData
func (d *TradeEventData) EventType() EventType {
	return d.Kind
}

// InstructionExpiredData contains data for InstructionExpired events
type InstructionExpiredData struct {
	Portfolio  string  `json:"portfolio"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Shares     int64   `json:"shares"`
	AgeSeconds float64 `json:"age_seconds"`
}

// EventType returns the event type for InstructionExpiredData
func (d *InstructionExpiredData) EventType() EventType {
	return InstructionExpired
}

// SyncCompletedData contains data for SyncCompleted events
type SyncCompletedData struct {
	CycleID     string  `json:"cycle_id"`
	AccountID   int64   `json:"account_id"`
	Portfolio   string  `json:"portfolio"`
	TotalAssets float64 `json:"total_assets"`
	BuyCount    int     `json:"buy_count"`
	SellCount   int     `json:"sell_count"`
	ErrorCount  int     `json:"error_count"`
}

// EventType returns the event type for SyncCompletedData
func (d *SyncCompletedData) EventType() EventType {
	return SyncCompleted
}
