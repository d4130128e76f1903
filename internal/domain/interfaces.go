package domain

// Gateway defines the market & brokerage operations the core consumes.
// It abstracts the remote simulated-trading service so the reconciliation
// engine never touches HTTP or payload shapes directly.
type Gateway interface {
	// GetAccountSnapshot returns total assets, cash and market value for an account
	GetAccountSnapshot(accountID int64) (*AccountSnapshot, error)

	// GetHoldings returns the account's current positions
	GetHoldings(accountID int64) ([]Holding, error)

	// GetReferenceAllocation returns the reference portfolio's instrument
	// weights and its cash weight percent
	GetReferenceAllocation(portfolioCode string) ([]TargetAllocation, float64, error)

	// GetReferenceRebalanceHistory returns the most recent rebalance events,
	// newest first
	GetReferenceRebalanceHistory(portfolioCode string, count int) ([]RebalanceEvent, error)

	// LookupQuote resolves a symbol to its current price and instrument class.
	// Implementations return an error wrapping ErrQuoteUnavailable when the
	// symbol cannot be resolved or has no valid price.
	LookupQuote(symbol string) (*Quote, error)

	// SubmitTrade places a simulated trade
	SubmitTrade(accountID int64, symbol string, price float64, shares int64, action TradeAction) error

	// ListRecentTransactions returns the account's most recent executed trades
	ListRecentTransactions(accountID int64, limit int) ([]Transaction, error)
}

// ExecutionAdapter is the capability interface the dispatcher drives.
// Buy and sell are explicit operations dispatched on the instruction's
// action; there is no dynamic method lookup.
type ExecutionAdapter interface {
	Buy(symbol string, price float64, shares int64) error
	Sell(symbol string, price float64, shares int64) error

	// AvailableShares returns the sellable quantity currently held for the
	// symbol. Used by the optional sell-side position adjustment; returns 0
	// when the symbol is not held.
	AvailableShares(symbol string) (int64, error)
}

// KeyStore persists the executed-command set. Implementations must make Put
// durable before returning; concurrent writers against the same backing
// store are not supported.
type KeyStore interface {
	Contains(key string) bool
	Put(key string) error
	LoadAll() ([]string, error)
	Len() int
}
