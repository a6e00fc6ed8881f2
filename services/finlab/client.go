// Package finlab is the client for the historical data provider.
package finlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"go_twstock_backend/models"
)

// Client calls the FinLab HTTP API. It holds no state beyond
// credentials and the shared http.Client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new FinLab API client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// fieldResponse represents the /data API response structure
type fieldResponse struct {
	Field   string   `json:"field"`
	Columns []string `json:"columns"`
	Rows    []struct {
		Date   string     `json:"date"`
		Values []*float64 `json:"values"`
	} `json:"rows"`
}

// symbolResponse represents the /company_basic_info API response
type symbolResponse struct {
	Symbols []struct {
		StockID   string          `json:"stock_id"`
		Name      string          `json:"公司簡稱"`
		Market    string          `json:"market"`
		Industry  string          `json:"產業類別"`
		MarketCap decimal.Decimal `json:"market_cap"`
	} `json:"symbols"`
}

// FetchField retrieves one dataset field as a date-by-stock table.
// When since is non-empty only rows after that date are requested, so
// daily refreshes transfer just the missing tail of the series.
func (c *Client) FetchField(ctx context.Context, field, since string) (*models.Table, error) {
	q := url.Values{}
	q.Set("field", field)
	if since != "" {
		q.Set("since", since)
	}

	body, err := c.get(ctx, "/data", q)
	if err != nil {
		return nil, fmt.Errorf("finlab fetch %s failed: %w", field, err)
	}

	var resp fieldResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("finlab fetch %s: invalid response: %w", field, err)
	}

	table := models.NewTable(field, resp.Columns)
	for _, row := range resp.Rows {
		cells := make([]models.Cell, len(resp.Columns))
		for j := range cells {
			if j < len(row.Values) && row.Values[j] != nil {
				cells[j] = models.Cell(*row.Values[j])
			} else {
				cells[j] = models.Cell(math.NaN())
			}
		}
		table.Dates = append(table.Dates, row.Date)
		table.Values = append(table.Values, cells)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("finlab fetch %s: %w", field, err)
	}
	return table, nil
}

// SymbolInfo is one row of the provider's company directory.
type SymbolInfo struct {
	StockID   string
	Name      string
	Market    string
	Industry  string
	MarketCap decimal.Decimal
}

// FetchSymbols retrieves the company basic info directory.
func (c *Client) FetchSymbols(ctx context.Context) ([]SymbolInfo, error) {
	body, err := c.get(ctx, "/company_basic_info", nil)
	if err != nil {
		return nil, fmt.Errorf("finlab symbol fetch failed: %w", err)
	}

	var resp symbolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("finlab symbol fetch: invalid response: %w", err)
	}

	out := make([]SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		out = append(out, SymbolInfo{
			StockID:   s.StockID,
			Name:      s.Name,
			Market:    s.Market,
			Industry:  s.Industry,
			MarketCap: s.MarketCap,
		})
	}
	return out, nil
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
	req.Header.Set("Authorization", "Bearer "+c.token)
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
