package snowball

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrortrader/internal/domain"
)

func newTestGateway(t *testing.T, handler http.Handler) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.URL+"/tc", "u=123; xq_a_token=abc", zerolog.Nop())
	return NewGateway(client), server
}

func TestGetAccountSnapshotSumsMarkets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tc/performances.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("gid"))
		assert.Contains(t, r.Header.Get("Cookie"), "xq_a_token=abc")
		fmt.Fprint(w, `{"success":true,"result_data":{"performances":[
			{"market":"cn","assets":80000,"cash":20000,"list":[
				{"symbol":"SH600000","name":"浦发银行","shares":5000,"current":10.5,"market_value":52500}
			]},
			{"market":"us","assets":20000,"cash":20000,"list":[]}
		]}}`)
	})

	gateway, _ := newTestGateway(t, mux)

	snapshot, err := gateway.GetAccountSnapshot(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), snapshot.AccountID)
	assert.Equal(t, 100000.0, snapshot.TotalAssets)
	assert.Equal(t, 40000.0, snapshot.Cash)
	assert.Equal(t, 60000.0, snapshot.MarketValue)

	holdings, err := gateway.GetHoldings(42)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "SH600000", holdings[0].Symbol)
	assert.Equal(t, int64(5000), holdings[0].Shares)
}

func TestGetReferenceAllocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cubes/rebalancing/current.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ZH123456", r.URL.Query().Get("cube_symbol"))
		fmt.Fprint(w, `{"last_rb":{"cash":40,"holdings":[
			{"stock_symbol":"SH600000","stock_name":"浦发银行","weight":50},
			{"stock_symbol":"SZ000001","stock_name":"平安银行","weight":10},
			{"stock_symbol":"SH600519","stock_name":"贵州茅台","weight":0}
		]}}`)
	})

	gateway, _ := newTestGateway(t, mux)

	targets, cashWeight, err := gateway.GetReferenceAllocation("ZH123456")
	require.NoError(t, err)
	assert.Equal(t, 40.0, cashWeight)
	require.Len(t, targets, 2) // zero-weight rows dropped
	assert.Equal(t, 50.0, targets[0].WeightPercent)
}

func TestGetReferenceRebalanceHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cubes/rebalancing/history.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":1,"list":[{"id":98765,"created_at":1700000000000,
			"rebalancing_histories":[
				{"stock_symbol":"SH600000","stock_name":"浦发银行","price":10.5,"weight":20,"prev_weight":10,"created_at":1700000000000},
				{"stock_symbol":"SZ128000","stock_name":"某某转债","price":null,"weight":0,"prev_weight":5,"created_at":1700000000000}
			]}]}`)
	})

	gateway, _ := newTestGateway(t, mux)

	events, err := gateway.GetReferenceRebalanceHistory("ZH123456", 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(98765), events[0].ID)
	require.Len(t, events[0].Changes, 2)
	assert.Equal(t, 10.5, events[0].Changes[0].Price)
	assert.Zero(t, events[0].Changes[1].Price) // null price collapses to 0
}

func TestLookupQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/query/v1/search/stock.json", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("code") {
		case "SZ128000":
			fmt.Fprint(w, `{"stocks":[{"symbol":"SZ128000","name":"某某转债","current":123.45}]}`)
		case "SH600999":
			fmt.Fprint(w, `{"stocks":[{"symbol":"SH600999","name":"停牌股","current":0}]}`)
		default:
			fmt.Fprint(w, `{"stocks":[]}`)
		}
	})

	gateway, _ := newTestGateway(t, mux)

	quote, err := gateway.LookupQuote("SZ128000")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassConvertibleBond, quote.Class)
	assert.Equal(t, int64(10), quote.Class.LotSize())
	assert.Equal(t, 123.45, quote.Price)

	_, err = gateway.LookupQuote("SH600999")
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)

	_, err = gateway.LookupQuote("NOPE")
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)
}

func TestSubmitTrade(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tc/transaction/add.json", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2", r.PostForm.Get("type"))
		assert.Equal(t, "42", r.PostForm.Get("gid"))
		assert.Equal(t, "SH600000", r.PostForm.Get("symbol"))
		assert.Equal(t, "10.500", r.PostForm.Get("price"))
		assert.Equal(t, "500", r.PostForm.Get("shares"))
		fmt.Fprint(w, `{"success":true}`)
	})

	gateway, _ := newTestGateway(t, mux)

	err := gateway.SubmitTrade(42, "SH600000", 10.5, 500, domain.ActionSell)
	require.NoError(t, err)
}

func TestSubmitTradeRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tc/transaction/add.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"msg":"资金不足"}`)
	})

	gateway, _ := newTestGateway(t, mux)

	err := gateway.SubmitTrade(42, "SH600000", 10.5, 500, domain.ActionBuy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "资金不足")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestSubmitTradePositionShortfall(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tc/transaction/add.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"msg":"持仓不足"}`)
	})

	gateway, _ := newTestGateway(t, mux)

	err := gateway.SubmitTrade(42, "SH600000", 10.5, 500, domain.ActionSell)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientPosition)
}

func TestListRecentTransactions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tc/transaction/list.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("row"))
		fmt.Fprint(w, `{"success":true,"result_data":{"transactions":[
			{"symbol":"SH600000","name":"浦发银行","type":1,"price":10.5,"shares":500,"created_at":1700000000000},
			{"symbol":"SZ000001","name":"平安银行","type":2,"price":12.0,"shares":200,"created_at":1700000100000}
		]}}`)
	})

	gateway, _ := newTestGateway(t, mux)

	transactions, err := gateway.ListRecentTransactions(42, 20)
	require.NoError(t, err)
	require.Len(t, transactions, 2)
	assert.Equal(t, domain.ActionBuy, transactions[0].Action)
	assert.Equal(t, domain.ActionSell, transactions[1].Action)
}

func TestAccountExecutorAvailableShares(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tc/performances.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"result_data":{"performances":[
			{"market":"cn","assets":100000,"cash":50000,"list":[
				{"symbol":"SH600000","name":"浦发银行","shares":800,"current":10.5,"market_value":8400}
			]}
		]}}`)
	})

	gateway, _ := newTestGateway(t, mux)
	executor := NewAccountExecutor(gateway, 42)

	held, err := executor.AvailableShares("SH600000")
	require.NoError(t, err)
	assert.Equal(t, int64(800), held)

	held, err = executor.AvailableShares("SZ000001")
	require.NoError(t, err)
	assert.Zero(t, held)
}

func TestGetNetValue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/p/ZH123456", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><script>SNB.cubeInfo = {\"net_value\":1.2345};\n</script></html>")
	})

	gateway, _ := newTestGateway(t, mux)

	value, err := gateway.NetValue("ZH123456")
	require.NoError(t, err)
	assert.Equal(t, 1.2345, value)
}
