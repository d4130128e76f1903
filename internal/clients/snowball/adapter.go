package snowball

import (
	"fmt"
	"strings"

	"mirrortrader/internal/domain"
)

// Trade types of the remote service
const (
	tradeTypeBuy  = 1
	tradeTypeSell = 2
)

// Gateway adapts the raw client to the domain.Gateway interface
type Gateway struct {
	client *Client
}

// NewGateway wraps a client as a domain gateway
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// GetAccountSnapshot returns the account's aggregate assets, cash and
// market value.
func (g *Gateway) GetAccountSnapshot(accountID int64) (*domain.AccountSnapshot, error) {
	performances, err := g.client.GetPerformances(accountID)
	if err != nil {
		return nil, domain.NewGatewayError("account_snapshot", err)
	}
	return transformPerformances(accountID, performances), nil
}

// GetHoldings returns the account's current positions
func (g *Gateway) GetHoldings(accountID int64) ([]domain.Holding, error) {
	performances, err := g.client.GetPerformances(accountID)
	if err != nil {
		return nil, domain.NewGatewayError("holdings", err)
	}
	return transformHoldings(performances), nil
}

// GetReferenceAllocation returns the reference portfolio's instrument
// weights and cash weight percent.
func (g *Gateway) GetReferenceAllocation(portfolioCode string) ([]domain.TargetAllocation, float64, error) {
	raw, err := g.client.GetCurrentRebalancing(portfolioCode)
	if err != nil {
		return nil, 0, domain.NewGatewayError("reference_allocation", err)
	}
	targets, cashWeight := transformRebalancing(raw)
	return targets, cashWeight, nil
}

// GetReferenceRebalanceHistory returns the portfolio's most recent rebalance
// events, newest first.
func (g *Gateway) GetReferenceRebalanceHistory(portfolioCode string, count int) ([]domain.RebalanceEvent, error) {
	entries, err := g.client.GetRebalanceHistory(portfolioCode, count)
	if err != nil {
		return nil, domain.NewGatewayError("rebalance_history", err)
	}
	return transformHistory(entries), nil
}

// LookupQuote resolves a symbol's current price and lot-size class
func (g *Gateway) LookupQuote(symbol string) (*domain.Quote, error) {
	stock, err := g.client.SearchStock(symbol)
	if err != nil {
		return nil, domain.NewGatewayError("quote_lookup", err)
	}
	if stock == nil {
		return nil, fmt.Errorf("symbol %s: %w", symbol, domain.ErrQuoteUnavailable)
	}

	quote := transformQuote(stock)
	if !quote.Tradable {
		return nil, fmt.Errorf("symbol %s has no valid price: %w", symbol, domain.ErrQuoteUnavailable)
	}
	return quote, nil
}

// SubmitTrade places a simulated trade. Remote rejections for cash or
// position shortfalls map onto the domain sentinels; anything else is a
// gateway failure.
func (g *Gateway) SubmitTrade(accountID int64, symbol string, price float64, shares int64, action domain.TradeAction) error {
	tradeType := tradeTypeBuy
	if action == domain.ActionSell {
		tradeType = tradeTypeSell
	}
	if err := g.client.Trade(accountID, symbol, price, shares, tradeType); err != nil {
		return classifyTradeError(err)
	}
	return nil
}

// classifyTradeError inspects the remote rejection message. The service
// reports shortfalls only as human-readable text.
func classifyTradeError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "资金"):
		return fmt.Errorf("%s: %w", msg, domain.ErrInsufficientFunds)
	case strings.Contains(msg, "持仓"), strings.Contains(msg, "可卖"):
		return fmt.Errorf("%s: %w", msg, domain.ErrInsufficientPosition)
	}
	return domain.NewGatewayError("trade", err)
}

// ListRecentTransactions returns the account's most recent executed trades
func (g *Gateway) ListRecentTransactions(accountID int64, limit int) ([]domain.Transaction, error) {
	rows, err := g.client.GetTransactions(accountID, limit)
	if err != nil {
		return nil, domain.NewGatewayError("transactions", err)
	}
	return transformTransactions(rows), nil
}

// NetValue returns the portfolio's current net value
func (g *Gateway) NetValue(portfolioCode string) (float64, error) {
	value, err := g.client.GetNetValue(portfolioCode)
	if err != nil {
		return 0, domain.NewGatewayError("net_value", err)
	}
	return value, nil
}

// AccountExecutor binds a gateway to one account and exposes the
// domain.ExecutionAdapter capability interface the dispatcher drives.
type AccountExecutor struct {
	gateway   *Gateway
	accountID int64
}

// NewAccountExecutor creates an executor for the given account
func NewAccountExecutor(gateway *Gateway, accountID int64) *AccountExecutor {
	return &AccountExecutor{gateway: gateway, accountID: accountID}
}

// Buy places a buy trade on the bound account
func (e *AccountExecutor) Buy(symbol string, price float64, shares int64) error {
	return e.gateway.SubmitTrade(e.accountID, symbol, price, shares, domain.ActionBuy)
}

// Sell places a sell trade on the bound account
func (e *AccountExecutor) Sell(symbol string, price float64, shares int64) error {
	return e.gateway.SubmitTrade(e.accountID, symbol, price, shares, domain.ActionSell)
}

// AvailableShares returns the quantity currently held for the symbol, or 0
// when the symbol is not held.
func (e *AccountExecutor) AvailableShares(symbol string) (int64, error) {
	holdings, err := e.gateway.GetHoldings(e.accountID)
	if err != nil {
		return 0, err
	}
	for _, h := range holdings {
		if h.Symbol == symbol {
			return h.Shares, nil
		}
	}
	return 0, nil
}
