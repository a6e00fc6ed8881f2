// Package shioaji is the client for the realtime snapshot provider.
package shioaji

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"go_twstock_backend/models"
)

// Index contract codes for the two Taiwan market indices.
const (
	TSEIndexCode = "TSE001"
	OTCIndexCode = "OTC101"
)

// Client calls the Shioaji quote gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Shioaji quote client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IndexSnapshot is the live state of one index contract.
type IndexSnapshot struct {
	Code        string          `json:"code"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TS          int64           `json:"ts"` // unix nanoseconds, provider convention
}

// Date returns the snapshot's trading date in the exchange zone.
func (s IndexSnapshot) Date(loc *time.Location) string {
	return time.Unix(0, s.TS).In(loc).Format(models.DateLayout)
}

// snapshotResponse represents the /snapshots API response
type snapshotResponse struct {
	Snapshots []IndexSnapshot `json:"snapshots"`
}

// kbarsResponse represents the /kbars API response, already
// aggregated to daily bars by the gateway.
type kbarsResponse struct {
	Code string `json:"code"`
	Bars []struct {
		Date   string          `json:"date"`
		Open   decimal.Decimal `json:"open"`
		High   decimal.Decimal `json:"high"`
		Low    decimal.Decimal `json:"low"`
		Close  decimal.Decimal `json:"close"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"bars"`
}

// Snapshot fetches the current snapshot for the given index contracts.
func (c *Client) Snapshot(ctx context.Context, codes []string) ([]IndexSnapshot, error) {
	q := url.Values{}
	q.Set("contracts", strings.Join(codes, ","))

	body, err := c.get(ctx, "/snapshots", q)
	if err != nil {
		return nil, fmt.Errorf("shioaji snapshot failed: %w", err)
	}

	var resp snapshotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("shioaji snapshot: invalid response: %w", err)
	}
	if len(resp.Snapshots) != len(codes) {
		return nil, fmt.Errorf("shioaji snapshot: got %d snapshots, want %d", len(resp.Snapshots), len(codes))
	}
	return resp.Snapshots, nil
}

// DailyBars fetches daily OHLCV bars for one index contract. The
// returned table has OHLCV field columns and date rows; amounts are
// scaled to hundreds of millions (億) as the dashboard displays them.
func (c *Client) DailyBars(ctx context.Context, code, since string) (*models.Table, error) {
	q := url.Values{}
	q.Set("contract", code)
	if since != "" {
		q.Set("since", since)
	}

	body, err := c.get(ctx, "/kbars", q)
	if err != nil {
		return nil, fmt.Errorf("shioaji kbars %s failed: %w", code, err)
	}

	var resp kbarsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("shioaji kbars %s: invalid response: %w", code, err)
	}

	table := models.NewTable(code, []string{"open", "high", "low", "close", "volume"})
	hundredMillion := decimal.NewFromInt(100_000_000)
	for _, bar := range resp.Bars {
		table.UpsertRow(bar.Date, map[string]float64{
			"open":   bar.Open.InexactFloat64(),
			"high":   bar.High.InexactFloat64(),
			"low":    bar.Low.InexactFloat64(),
			"close":  bar.Close.InexactFloat64(),
			"volume": bar.Amount.Div(hundredMillion).InexactFloat64(),
		})
	}
	return table, nil
}

// get performs an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
