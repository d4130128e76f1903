package snowball

import (
	"strings"
	"time"

	"mirrortrader/internal/domain"
)

// convertibleBondMarker appears in the display name of exchange-traded
// convertible bonds, which settle in 10-unit lots instead of 100.
const convertibleBondMarker = "转债"

func classifyInstrument(name string) domain.InstrumentClass {
	if strings.Contains(name, convertibleBondMarker) {
		return domain.ClassConvertibleBond
	}
	return domain.ClassEquity
}

// transformPerformances flattens per-market performance sections into an
// account snapshot. Assets and cash are summed across markets.
func transformPerformances(accountID int64, performances []rawPerformance) *domain.AccountSnapshot {
	snapshot := &domain.AccountSnapshot{AccountID: accountID}
	for _, perf := range performances {
		snapshot.TotalAssets += perf.Assets
		snapshot.Cash += perf.Cash
	}
	snapshot.MarketValue = snapshot.TotalAssets - snapshot.Cash
	return snapshot
}

// transformHoldings flattens per-market position lists into domain holdings.
// Positions with zero shares are dropped.
func transformHoldings(performances []rawPerformance) []domain.Holding {
	var holdings []domain.Holding
	for _, perf := range performances {
		for _, stock := range perf.List {
			shares := int64(stock.Shares)
			if shares == 0 {
				continue
			}
			holdings = append(holdings, domain.Holding{
				Symbol:       stock.Symbol,
				Name:         stock.Name,
				Shares:       shares,
				CurrentPrice: stock.Current,
				MarketValue:  stock.MarketValue,
			})
		}
	}
	return holdings
}

// transformRebalancing converts the current-allocation payload into target
// allocations plus the cash weight percent.
func transformRebalancing(raw *rawRebalancing) ([]domain.TargetAllocation, float64) {
	targets := make([]domain.TargetAllocation, 0, len(raw.LastRB.Holdings))
	for _, h := range raw.LastRB.Holdings {
		if h.Weight <= 0 {
			continue
		}
		targets = append(targets, domain.TargetAllocation{
			Symbol:        h.StockSymbol,
			Name:          h.StockName,
			WeightPercent: h.Weight,
		})
	}
	return targets, raw.LastRB.Cash
}

// transformHistory converts raw rebalance history entries into domain events
func transformHistory(entries []rawHistoryEntry) []domain.RebalanceEvent {
	events := make([]domain.RebalanceEvent, 0, len(entries))
	for _, entry := range entries {
		event := domain.RebalanceEvent{
			ID:        entry.ID,
			Timestamp: time.UnixMilli(entry.CreatedAt),
			Changes:   make([]domain.WeightChange, 0, len(entry.Histories)),
		}
		for _, h := range entry.Histories {
			change := domain.WeightChange{
				Symbol:     h.StockSymbol,
				Name:       h.StockName,
				PrevWeight: h.PrevWeight,
				Weight:     h.Weight,
				CreatedAt:  h.CreatedAt,
			}
			if h.Price != nil {
				change.Price = *h.Price
			}
			event.Changes = append(event.Changes, change)
		}
		events = append(events, event)
	}
	return events
}

// transformQuote converts a stock search hit into a quote. A zero price
// marks the instrument untradable (suspended or delisted).
func transformQuote(stock *rawStock) *domain.Quote {
	return &domain.Quote{
		Symbol:   stock.Symbol,
		Name:     stock.Name,
		Price:    stock.Current,
		Class:    classifyInstrument(stock.Name),
		Tradable: stock.Current > 0,
	}
}

// transformTransactions converts raw transaction rows into domain transactions
func transformTransactions(rows []rawTransaction) []domain.Transaction {
	transactions := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		action := domain.ActionBuy
		if row.Type == tradeTypeSell {
			action = domain.ActionSell
		}
		transactions = append(transactions, domain.Transaction{
			Symbol:   row.Symbol,
			Name:     row.Name,
			Action:   action,
			Shares:   row.Shares,
			Price:    row.Price,
			TradedAt: time.UnixMilli(row.CreatedAt),
		})
	}
	return transactions
}
