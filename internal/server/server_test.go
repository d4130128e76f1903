package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrortrader/internal/config"
	"mirrortrader/internal/database"
	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
	"mirrortrader/internal/modules/allocation"
	"mirrortrader/internal/modules/dedup"
	"mirrortrader/internal/modules/detector"
	"mirrortrader/internal/modules/dispatch"
	"mirrortrader/internal/modules/planner"
	"mirrortrader/internal/modules/syncer"
)

type fakeGateway struct {
	snapshot    domain.AccountSnapshot
	holdings    []domain.Holding
	allocations []domain.TargetAllocation
	quotes      map[string]*domain.Quote
}

func (f *fakeGateway) GetAccountSnapshot(accountID int64) (*domain.AccountSnapshot, error) {
	snapshot := f.snapshot
	snapshot.AccountID = accountID
	return &snapshot, nil
}

func (f *fakeGateway) GetHoldings(int64) ([]domain.Holding, error) { return f.holdings, nil }

func (f *fakeGateway) GetReferenceAllocation(string) ([]domain.TargetAllocation, float64, error) {
	return f.allocations, 0, nil
}

func (f *fakeGateway) GetReferenceRebalanceHistory(string, int) ([]domain.RebalanceEvent, error) {
	return nil, nil
}

func (f *fakeGateway) LookupQuote(symbol string) (*domain.Quote, error) {
	quote, ok := f.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, domain.ErrQuoteUnavailable)
	}
	return quote, nil
}

func (f *fakeGateway) SubmitTrade(int64, string, float64, int64, domain.TradeAction) error {
	return nil
}

func (f *fakeGateway) ListRecentTransactions(int64, int) ([]domain.Transaction, error) {
	return []domain.Transaction{{Symbol: "SH600000", Action: domain.ActionBuy, Shares: 100, Price: 10}}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeGateway) {
	t.Helper()

	gateway := &fakeGateway{
		snapshot: domain.AccountSnapshot{TotalAssets: 100000, Cash: 100000},
		allocations: []domain.TargetAllocation{
			{Symbol: "SH600000", Name: "浦发银行", WeightPercent: 50},
		},
		quotes: map[string]*domain.Quote{
			"SH600000": {Symbol: "SH600000", Price: 10, Class: domain.ClassEquity, Tradable: true},
		},
	}

	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:server_%s?mode=memory&cache=shared", t.Name()),
		Profile: database.ProfileLedger,
		Name:    "state",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(dedup.Schema+syncer.Schema))

	store, err := dedup.NewSQLiteKeyStore(db.Conn())
	require.NoError(t, err)
	deduplicator := dedup.NewDeduplicator(store, zerolog.Nop())

	bus := events.NewBus(zerolog.Nop())
	manager := events.NewManager(bus, zerolog.Nop())
	tradeLog := syncer.NewTradeLogRepository(db.Conn())

	orchestrator := syncer.NewOrchestrator(
		gateway,
		allocation.NewResolver(gateway, zerolog.Nop()),
		planner.NewPlanner(zerolog.Nop()),
		detector.NewDetector(gateway, zerolog.Nop()),
		tradeLog,
		manager,
		zerolog.Nop(),
	)

	cfg := &config.Config{
		Port:          8010,
		TrackInterval: 60,
		Track:         []config.TrackPair{{AccountID: 42, Portfolio: "ZH123456"}},
	}

	server := New(Config{
		Log:          zerolog.Nop(),
		Cfg:          cfg,
		Orchestrator: orchestrator,
		Dispatcher:   dispatch.NewDispatcher(dispatch.Config{}, nil, manager, zerolog.Nop()),
		Dedup:        deduplicator,
		Gateway:      gateway,
		TradeLog:     tradeLog,
		Bus:          bus,
	})
	return server, gateway
}

func doRequest(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunSyncEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/accounts/42/sync")
	require.Equal(t, http.StatusOK, rec.Code)

	var report domain.SyncReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(42), report.AccountID)
	assert.Equal(t, "ZH123456", report.Portfolio)
	assert.Equal(t, 1, report.BuyCount) // Empty account buys into the 50% target
}

func TestRunSyncUnknownAccount(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/api/accounts/99/sync")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckSyncEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/accounts/42/sync/check")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		NeedsSync    bool                      `json:"needs_sync"`
		Instructions []domain.TradeInstruction `json:"planned_instructions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.True(t, payload.NeedsSync)
	require.Len(t, payload.Instructions, 1) // Buy into the 50% target
	assert.Equal(t, domain.ActionBuy, payload.Instructions[0].Action)
}

func TestLastReportNotFoundBeforeFirstSync(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/accounts/42/sync/report")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doRequest(t, server, http.MethodPost, "/api/accounts/42/sync")
	rec = doRequest(t, server, http.MethodGet, "/api/accounts/42/sync/report")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrackStartStop(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/accounts/42/track/start")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/accounts/42/track/start")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/accounts/42/track/stop")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/accounts/42/track/stop")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTransactionsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/accounts/42/transactions?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var transactions []domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &transactions))
	require.Len(t, transactions, 1)
	assert.Equal(t, "SH600000", transactions[0].Symbol)
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.EqualValues(t, 1, status["tracked_pairs"])
	assert.Contains(t, status, "queue_depth")
}
