// Package snowball provides the HTTP/JSON client for the remote
// portfolio-simulation service: simulated-account endpoints (holdings,
// performance, trades) and reference-portfolio endpoints (current
// allocation, rebalance history, quote search).
package snowball

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 15 * time.Second

	// Per-mille rates applied to simulated trades
	defaultTaxRate        = 0.5
	defaultCommissionRate = 0.05
)

var cubeInfoRe = regexp.MustCompile(`SNB\.cubeInfo = (.*?);\n`)

// Client for the simulation service API
type Client struct {
	baseURL      string
	tradeBaseURL string
	httpClient   *http.Client
	cookies      string
	log          zerolog.Logger

	TaxRate        float64
	CommissionRate float64
}

// NewClient creates a new client. Authentication is cookie-based; the cookie
// string is sent verbatim on every request.
func NewClient(baseURL, tradeBaseURL, cookies string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tradeBaseURL: strings.TrimRight(tradeBaseURL, "/"),
		httpClient:   &http.Client{Timeout: defaultTimeout},
		cookies:      cookies,
		log:          log.With().Str("client", "snowball").Logger(),

		TaxRate:        defaultTaxRate,
		CommissionRate: defaultCommissionRate,
	}
}

// tradeEnvelope is the standard response envelope of the simulation endpoints
type tradeEnvelope struct {
	Success    bool            `json:"success"`
	Msg        string          `json:"msg"`
	ResultData json.RawMessage `json:"result_data"`
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.cookies != "" {
		req.Header.Set("Cookie", c.cookies)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func (c *Client) get(rawURL string, params url.Values) ([]byte, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) postForm(rawURL string, form url.Values) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// getEnveloped performs a GET against a simulation endpoint and unwraps the
// success/result_data envelope.
func (c *Client) getEnveloped(rawURL string, params url.Values) (json.RawMessage, error) {
	body, err := c.get(rawURL, params)
	if err != nil {
		return nil, err
	}

	var env tradeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("service rejected request: %s", env.Msg)
	}
	return env.ResultData, nil
}

// rawPerformance is one market section of the performances payload
type rawPerformance struct {
	Market string     `json:"market"`
	Assets float64    `json:"assets"`
	Cash   float64    `json:"cash"`
	List   []rawStock `json:"list"`
}

type rawStock struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	Shares      float64 `json:"shares"`
	Current     float64 `json:"current"`
	MarketValue float64 `json:"market_value"`
}

// GetPerformances returns the account's per-market performance sections
func (c *Client) GetPerformances(accountID int64) ([]rawPerformance, error) {
	params := url.Values{}
	params.Set("gid", fmt.Sprintf("%d", accountID))

	data, err := c.getEnveloped(c.tradeBaseURL+"/performances.json", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Performances []rawPerformance `json:"performances"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse performances: %w", err)
	}
	return payload.Performances, nil
}

// rawRebalancing is the current-allocation payload of a reference portfolio
type rawRebalancing struct {
	LastRB struct {
		Cash     float64 `json:"cash"`
		Holdings []struct {
			StockSymbol string  `json:"stock_symbol"`
			StockName   string  `json:"stock_name"`
			Weight      float64 `json:"weight"`
		} `json:"holdings"`
	} `json:"last_rb"`
}

// GetCurrentRebalancing returns the reference portfolio's published
// allocation and cash weight.
func (c *Client) GetCurrentRebalancing(portfolioCode string) (*rawRebalancing, error) {
	params := url.Values{}
	params.Set("cube_symbol", portfolioCode)

	body, err := c.get(c.baseURL+"/cubes/rebalancing/current.json", params)
	if err != nil {
		return nil, err
	}

	var payload rawRebalancing
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse current rebalancing: %w", err)
	}
	return &payload, nil
}

// rawHistoryEntry is one rebalance event of the history payload
type rawHistoryEntry struct {
	ID        int64 `json:"id"`
	CreatedAt int64 `json:"created_at"` // Unix milliseconds
	Histories []struct {
		StockSymbol string   `json:"stock_symbol"`
		StockName   string   `json:"stock_name"`
		Price       *float64 `json:"price"`
		Weight      float64  `json:"weight"`
		PrevWeight  float64  `json:"prev_weight"`
		CreatedAt   int64    `json:"created_at"`
	} `json:"rebalancing_histories"`
}

// GetRebalanceHistory returns the portfolio's most recent rebalance events,
// newest first.
func (c *Client) GetRebalanceHistory(portfolioCode string, count int) ([]rawHistoryEntry, error) {
	params := url.Values{}
	params.Set("cube_symbol", portfolioCode)
	params.Set("count", fmt.Sprintf("%d", count))
	params.Set("page", "1")

	body, err := c.get(c.baseURL+"/cubes/rebalancing/history.json", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Count int               `json:"count"`
		List  []rawHistoryEntry `json:"list"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse rebalance history: %w", err)
	}
	if payload.Count <= 0 {
		return nil, nil
	}
	return payload.List, nil
}

// SearchStock resolves a symbol via the quote search endpoint. Returns the
// best match or nil when nothing matches.
func (c *Client) SearchStock(code string) (*rawStock, error) {
	params := url.Values{}
	params.Set("code", code)
	params.Set("size", "10")

	body, err := c.get(c.baseURL+"/query/v1/search/stock.json", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Stocks []rawStock `json:"stocks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse stock search: %w", err)
	}
	if len(payload.Stocks) == 0 {
		return nil, nil
	}
	return &payload.Stocks[0], nil
}

// Trade submits a simulated trade. tradeType is 1 for buy, 2 for sell.
func (c *Client) Trade(accountID int64, symbol string, price float64, shares int64, tradeType int) error {
	form := url.Values{}
	form.Set("type", fmt.Sprintf("%d", tradeType))
	form.Set("date", time.Now().Format("2006-01-02"))
	form.Set("gid", fmt.Sprintf("%d", accountID))
	form.Set("symbol", symbol)
	form.Set("price", fmt.Sprintf("%.3f", price))
	form.Set("shares", fmt.Sprintf("%d", shares))
	form.Set("tax_rate", fmt.Sprintf("%g", c.TaxRate))
	form.Set("commission_rate", fmt.Sprintf("%g", c.CommissionRate))

	body, err := c.postForm(c.tradeBaseURL+"/transaction/add.json", form)
	if err != nil {
		return err
	}

	var env tradeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to parse trade response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("trade rejected: %s", env.Msg)
	}

	c.log.Info().
		Str("symbol", symbol).
		Int64("shares", shares).
		Float64("price", price).
		Int("type", tradeType).
		Msg("Trade accepted")
	return nil
}

// rawTransaction is one executed trade in the account's transaction list
type rawTransaction struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Type      int     `json:"type"` // 1 buy, 2 sell
	Price     float64 `json:"price"`
	Shares    int64   `json:"shares"`
	CreatedAt int64   `json:"created_at"` // Unix milliseconds
}

// GetTransactions returns the account's most recent executed trades
func (c *Client) GetTransactions(accountID int64, row int) ([]rawTransaction, error) {
	params := url.Values{}
	params.Set("gid", fmt.Sprintf("%d", accountID))
	params.Set("row", fmt.Sprintf("%d", row))

	data, err := c.getEnveloped(c.tradeBaseURL+"/transaction/list.json", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Transactions []rawTransaction `json:"transactions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse transactions: %w", err)
	}
	return payload.Transactions, nil
}

// GetNetValue returns a reference portfolio's current net value, scraped
// from the embedded cube info of its page. Used to derive total assets from
// configured initial assets.
func (c *Client) GetNetValue(portfolioCode string) (float64, error) {
	body, err := c.get(c.baseURL+"/p/"+portfolioCode, nil)
	if err != nil {
		return 0, err
	}

	match := cubeInfoRe.FindSubmatch(body)
	if match == nil {
		return 0, fmt.Errorf("portfolio page for %s carries no cube info", portfolioCode)
	}

	var info struct {
		NetValue float64 `json:"net_value"`
	}
	if err := json.Unmarshal(match[1], &info); err != nil {
		return 0, fmt.Errorf("failed to parse cube info: %w", err)
	}
	if info.NetValue == 0 {
		return 1.0, nil
	}
	return info.NetValue, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
