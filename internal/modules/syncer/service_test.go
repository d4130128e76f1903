package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrortrader/internal/database"
	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
	"mirrortrader/internal/modules/allocation"
	"mirrortrader/internal/modules/detector"
	"mirrortrader/internal/modules/planner"
)

type tradeCall struct {
	symbol string
	action domain.TradeAction
	shares int64
	price  float64
}

type fakeGateway struct {
	mu           sync.Mutex
	snapshot     domain.AccountSnapshot
	holdings     []domain.Holding
	allocations  []domain.TargetAllocation
	cashWeight   float64
	history      []domain.RebalanceEvent
	quotes       map[string]*domain.Quote
	failSymbols  map[string]error
	trades       []tradeCall
	transactions []domain.Transaction
	lookups      int
}

func (f *fakeGateway) GetAccountSnapshot(accountID int64) (*domain.AccountSnapshot, error) {
	snapshot := f.snapshot
	snapshot.AccountID = accountID
	return &snapshot, nil
}

func (f *fakeGateway) GetHoldings(int64) ([]domain.Holding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Holding(nil), f.holdings...), nil
}

func (f *fakeGateway) GetReferenceAllocation(string) ([]domain.TargetAllocation, float64, error) {
	return f.allocations, f.cashWeight, nil
}

func (f *fakeGateway) GetReferenceRebalanceHistory(string, int) ([]domain.RebalanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RebalanceEvent(nil), f.history...), nil
}

func (f *fakeGateway) LookupQuote(symbol string) (*domain.Quote, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()

	quote, ok := f.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, domain.ErrQuoteUnavailable)
	}
	return quote, nil
}

func (f *fakeGateway) SubmitTrade(_ int64, symbol string, price float64, shares int64, action domain.TradeAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSymbols[symbol]; err != nil {
		return err
	}
	f.trades = append(f.trades, tradeCall{symbol: symbol, action: action, shares: shares, price: price})
	return nil
}

func (f *fakeGateway) ListRecentTransactions(int64, int) ([]domain.Transaction, error) {
	return f.transactions, nil
}

func (f *fakeGateway) executed() []tradeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tradeCall(nil), f.trades...)
}

func (f *fakeGateway) quoteLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func newTestOrchestrator(t *testing.T, gateway *fakeGateway) *Orchestrator {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:syncer_%s?mode=memory&cache=shared", t.Name()),
		Profile: database.ProfileLedger,
		Name:    "state",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(Schema))

	bus := events.NewBus(zerolog.Nop())
	return NewOrchestrator(
		gateway,
		allocation.NewResolver(gateway, zerolog.Nop()),
		planner.NewPlanner(zerolog.Nop()),
		detector.NewDetector(gateway, zerolog.Nop()),
		NewTradeLogRepository(db.Conn()),
		events.NewManager(bus, zerolog.Nop()),
		zerolog.Nop(),
	)
}

func standardGateway() *fakeGateway {
	return &fakeGateway{
		snapshot: domain.AccountSnapshot{TotalAssets: 100000, Cash: 38000, MarketValue: 62000},
		holdings: []domain.Holding{
			{Symbol: "SH600000", Name: "浦发银行", Shares: 5000, CurrentPrice: 10},
			{Symbol: "SZ000001", Name: "平安银行", Shares: 1000, CurrentPrice: 12},
		},
		allocations: []domain.TargetAllocation{
			{Symbol: "SH600000", Name: "浦发银行", WeightPercent: 20},
			{Symbol: "SZ000858", Name: "五粮液", WeightPercent: 17},
		},
		cashWeight: 63,
		history:    []domain.RebalanceEvent{{ID: 100}},
		quotes: map[string]*domain.Quote{
			"SH600000": {Symbol: "SH600000", Name: "浦发银行", Price: 10, Class: domain.ClassEquity, Tradable: true},
			"SZ000858": {Symbol: "SZ000858", Name: "五粮液", Price: 17, Class: domain.ClassEquity, Tradable: true},
		},
	}
}

func TestRunSyncCycleExecutesPlanSellsFirst(t *testing.T) {
	gateway := standardGateway()
	orchestrator := newTestOrchestrator(t, gateway)

	report, err := orchestrator.RunSyncCycle(42, "ZH123456")
	require.NoError(t, err)

	assert.Equal(t, 100000.0, report.TotalAssets)
	assert.Equal(t, 2, report.SellCount)
	assert.Equal(t, 1, report.BuyCount)
	assert.Zero(t, report.ErrorCount)
	assert.NotEmpty(t, report.CycleID)

	trades := gateway.executed()
	require.Len(t, trades, 3)
	// Reduce SH600000 to 2000, close SZ000001, then buy SZ000858
	assert.Equal(t, tradeCall{symbol: "SH600000", action: domain.ActionSell, shares: 3000, price: 10}, trades[0])
	assert.Equal(t, tradeCall{symbol: "SZ000001", action: domain.ActionSell, shares: 1000, price: 12}, trades[1])
	assert.Equal(t, tradeCall{symbol: "SZ000858", action: domain.ActionBuy, shares: 1000, price: 17}, trades[2])

	assert.Same(t, report, orchestrator.LastReport(42))
}

func TestRunSyncCyclePersistsTradeLog(t *testing.T) {
	gateway := standardGateway()
	orchestrator := newTestOrchestrator(t, gateway)

	report, err := orchestrator.RunSyncCycle(42, "ZH123456")
	require.NoError(t, err)

	entries, err := orchestrator.tradeLog.Recent(42, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, report.CycleID, entry.CycleID)
		assert.True(t, entry.Success)
	}
	// Newest first: the buy was last
	assert.Equal(t, domain.ActionBuy, entries[0].Action)
}

func TestRunSyncCycleContainsTradeFailures(t *testing.T) {
	gateway := standardGateway()
	gateway.failSymbols = map[string]error{"SZ000001": fmt.Errorf("持仓不足")}
	orchestrator := newTestOrchestrator(t, gateway)

	report, err := orchestrator.RunSyncCycle(42, "ZH123456")
	require.NoError(t, err)

	assert.Equal(t, 1, report.ErrorCount)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "持仓不足")

	// The failed sell did not stop the rest of the plan
	trades := gateway.executed()
	require.Len(t, trades, 2)
	assert.Equal(t, "SZ000858", trades[1].symbol)
}

func TestRunSyncCycleSkipsUnresolvableTargets(t *testing.T) {
	gateway := standardGateway()
	delete(gateway.quotes, "SZ000858")
	orchestrator := newTestOrchestrator(t, gateway)

	report, err := orchestrator.RunSyncCycle(42, "ZH123456")
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "SZ000858", report.Skipped[0].Symbol)
	assert.Zero(t, report.BuyCount)
}

func TestCheckNeedsSync(t *testing.T) {
	gateway := standardGateway()
	orchestrator := newTestOrchestrator(t, gateway)

	needs, plan, err := orchestrator.CheckNeedsSync(42, "ZH123456")
	require.NoError(t, err)
	assert.True(t, needs)
	require.Len(t, plan, 3)
	assert.Equal(t, domain.ActionSell, plan[0].Action)

	// Holdings exactly on target: 20% -> 2000 @ 10, 17% -> 1000 @ 17
	gateway.holdings = []domain.Holding{
		{Symbol: "SH600000", Shares: 2000, CurrentPrice: 10},
		{Symbol: "SZ000858", Shares: 1000, CurrentPrice: 17},
	}
	needs, plan, err = orchestrator.CheckNeedsSync(42, "ZH123456")
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Empty(t, plan)
}

func TestTrackOnceFirstSyncIsUnconditional(t *testing.T) {
	gateway := standardGateway()
	// Already on target; a deviation check alone would not sync
	gateway.holdings = []domain.Holding{
		{Symbol: "SH600000", Shares: 2000, CurrentPrice: 10},
		{Symbol: "SZ000858", Shares: 1000, CurrentPrice: 17},
	}
	orchestrator := newTestOrchestrator(t, gateway)

	orchestrator.trackOnce(42, "ZH123456", zerolog.Nop())
	require.NotNil(t, orchestrator.LastReport(42), "first iteration must sync")

	first := orchestrator.LastReport(42)

	// Clean tick: the detector primes its baseline, nothing else runs --
	// no quote lookups, no new cycle
	lookups := gateway.quoteLookups()
	orchestrator.trackOnce(42, "ZH123456", zerolog.Nop())
	assert.Same(t, first, orchestrator.LastReport(42))
	assert.Equal(t, lookups, gateway.quoteLookups())

	// New rebalance id while the account is still on target: the change is
	// detected but the needs-sync check yields no instructions, so no cycle
	gateway.mu.Lock()
	gateway.history = []domain.RebalanceEvent{{ID: 101}}
	gateway.mu.Unlock()
	orchestrator.trackOnce(42, "ZH123456", zerolog.Nop())
	assert.Same(t, first, orchestrator.LastReport(42))

	// A rebalance that moves the allocation triggers a full sync
	gateway.mu.Lock()
	gateway.history = []domain.RebalanceEvent{{ID: 102}}
	gateway.allocations = []domain.TargetAllocation{
		{Symbol: "SH600000", Name: "浦发银行", WeightPercent: 30},
		{Symbol: "SZ000858", Name: "五粮液", WeightPercent: 17},
	}
	gateway.mu.Unlock()
	orchestrator.trackOnce(42, "ZH123456", zerolog.Nop())
	assert.NotSame(t, first, orchestrator.LastReport(42))
}

func TestStartStopAutoTrack(t *testing.T) {
	gateway := standardGateway()
	orchestrator := newTestOrchestrator(t, gateway)

	started := orchestrator.StartAutoTrack(context.Background(), 42, "ZH123456", time.Hour)
	require.True(t, started)
	assert.False(t, orchestrator.StartAutoTrack(context.Background(), 42, "ZH123456", time.Hour))

	require.Eventually(t, func() bool {
		return orchestrator.LastReport(42) != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, orchestrator.TrackingActive(42))
	assert.True(t, orchestrator.StopAutoTrack(42))
	assert.False(t, orchestrator.TrackingActive(42))
	assert.False(t, orchestrator.StopAutoTrack(42))
}
