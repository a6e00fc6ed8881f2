package marketdata

import (
	"context"
	"fmt"
	"time"

	"go_twstock_backend/models"
	"go_twstock_backend/services/finlab"
	"go_twstock_backend/services/shioaji"
)

// Registered dataset names. Callers ask for these; the provider field
// identifiers stay inside the registry.
const (
	DatasetClose         = "close"
	DatasetOpen          = "open"
	DatasetHigh          = "high"
	DatasetLow           = "low"
	DatasetVolume        = "volume"
	DatasetAmount        = "amount"
	DatasetMarginBalance = "margin_balance"
	DatasetMarginTotal   = "margin_total"
	DatasetBenchmark     = "benchmark"
	DatasetWorldOpen     = "world_index_open"
	DatasetWorldClose    = "world_index_close"
	DatasetWorldHigh     = "world_index_high"
	DatasetWorldLow      = "world_index_low"
	DatasetWorldVol      = "world_index_vol"
	DatasetDisposal      = "disposal_stock"
	DatasetNoticed       = "noticed_stock"
	DatasetRevenue       = "monthly_revenue"
	DatasetRevenueYoY    = "revenue_yoy"
	DatasetRevenueMoM    = "revenue_mom"
	DatasetTSEIndex      = "tse_index"
	DatasetOTCIndex      = "otc_index"
)

// finlabFields maps dataset names to FinLab field identifiers.
var finlabFields = map[string]string{
	DatasetClose:         "price:收盤價",
	DatasetOpen:          "price:開盤價",
	DatasetHigh:          "price:最高價",
	DatasetLow:           "price:最低價",
	DatasetVolume:        "price:成交股數",
	DatasetAmount:        "price:成交金額",
	DatasetMarginBalance: "margin_transactions:融資今日餘額",
	DatasetMarginTotal:   "margin_balance:融資券總餘額",
	DatasetBenchmark:     "benchmark_return:發行量加權股價報酬指數",
	DatasetWorldOpen:     "world_index:open",
	DatasetWorldClose:    "world_index:close",
	DatasetWorldHigh:     "world_index:high",
	DatasetWorldLow:      "world_index:low",
	DatasetWorldVol:      "world_index:vol",
	DatasetDisposal:      "etl:disposal_stock_filter",
	DatasetNoticed:       "etl:noticed_stock_filter",
	DatasetRevenue:       "monthly_revenue:當月營收",
	DatasetRevenueYoY:    "monthly_revenue:去年同月增減(%)",
	DatasetRevenueMoM:    "monthly_revenue:上月比較增減(%)",
}

// fastDatasets use the shorter historical window (intraday-updated
// series such as trade amount and overnight world indices).
var fastDatasets = map[string]bool{
	DatasetAmount:     true,
	DatasetWorldOpen:  true,
	DatasetWorldClose: true,
	DatasetWorldHigh:  true,
	DatasetWorldLow:   true,
	DatasetWorldVol:   true,
}

// BuildDatasets wires the registry: every historical field bound to
// the FinLab client, both market indices bound to the Shioaji client.
func BuildDatasets(fl *finlab.Client, sj *shioaji.Client) []Dataset {
	order := []string{
		DatasetClose, DatasetOpen, DatasetHigh, DatasetLow, DatasetVolume,
		DatasetAmount,
		DatasetMarginBalance, DatasetMarginTotal, DatasetBenchmark,
		DatasetWorldOpen, DatasetWorldClose, DatasetWorldHigh, DatasetWorldLow, DatasetWorldVol,
		DatasetDisposal, DatasetNoticed,
		DatasetRevenue, DatasetRevenueYoY, DatasetRevenueMoM,
	}

	datasets := make([]Dataset, 0, len(order)+2)
	for _, name := range order {
		field := finlabFields[name]
		class := ClassHistorical
		if fastDatasets[name] {
			class = ClassFastHistorical
		}
		datasets = append(datasets, Dataset{
			Name:  name,
			Class: class,
			Fetch: func(ctx context.Context, since string) (*models.Table, error) {
				return fl.FetchField(ctx, field, since)
			},
		})
	}

	datasets = append(datasets,
		Dataset{Name: DatasetTSEIndex, Class: ClassRealtime, Fetch: indexFetcher(sj, shioaji.TSEIndexCode)},
		Dataset{Name: DatasetOTCIndex, Class: ClassRealtime, Fetch: indexFetcher(sj, shioaji.OTCIndexCode)},
	)
	return datasets
}

// indexFetcher composes daily bars and the live snapshot for one
// index contract. The snapshot row replaces the current session's
// bar, which the gateway only finalizes after close.
func indexFetcher(sj *shioaji.Client, code string) FetchFunc {
	return func(ctx context.Context, since string) (*models.Table, error) {
		table, err := sj.DailyBars(ctx, code, since)
		if err != nil {
			return nil, err
		}

		snaps, err := sj.Snapshot(ctx, []string{code})
		if err != nil {
			return nil, err
		}
		snap := snaps[0]
		date := SessionDate(time.Unix(0, snap.TS))
		table.UpsertRow(date, map[string]float64{
			"open":   snap.Open.InexactFloat64(),
			"high":   snap.High.InexactFloat64(),
			"low":    snap.Low.InexactFloat64(),
			"close":  snap.Close.InexactFloat64(),
			"volume": snap.TotalAmount.InexactFloat64() / 1e8,
		})
		return table, nil
	}
}

// Facade exposes the datasets as named accessors. Every accessor is
// an explicit Get memoized by the manager.
type Facade struct {
	m *Manager
}

// NewFacade wraps a manager.
func NewFacade(m *Manager) *Facade {
	return &Facade{m: m}
}

// Manager exposes the underlying cache manager for administration.
func (f *Facade) Manager() *Manager { return f.m }

func (f *Facade) Close(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetClose)
}

func (f *Facade) Open(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetOpen)
}

func (f *Facade) High(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetHigh)
}

func (f *Facade) Low(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetLow)
}

func (f *Facade) Volume(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetVolume)
}

func (f *Facade) Amount(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetAmount)
}

func (f *Facade) MarginBalance(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetMarginBalance)
}

func (f *Facade) MarginTotal(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetMarginTotal)
}

func (f *Facade) Benchmark(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetBenchmark)
}

func (f *Facade) DisposalStock(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetDisposal)
}

func (f *Facade) NoticedStock(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetNoticed)
}

func (f *Facade) MonthlyRevenue(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetRevenue)
}

func (f *Facade) RevenueYoY(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetRevenueYoY)
}

func (f *Facade) RevenueMoM(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetRevenueMoM)
}

// WorldIndex returns one OHLCV part (open/close/high/low/vol) of the
// world index group.
func (f *Facade) WorldIndex(ctx context.Context, part string) (*models.Table, error) {
	name := "world_index_" + part
	if _, ok := finlabFields[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	return f.m.Get(ctx, name)
}

func (f *Facade) TSEIndex(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetTSEIndex)
}

func (f *Facade) OTCIndex(ctx context.Context) (*models.Table, error) {
	return f.m.Get(ctx, DatasetOTCIndex)
}

// MarginMaintenanceRatio derives the market-wide margin maintenance
// ratio series: market value of margined positions over the total
// margin loan balance, per date.
func (f *Facade) MarginMaintenanceRatio(ctx context.Context) (*models.Table, error) {
	balance, err := f.MarginBalance(ctx)
	if err != nil {
		return nil, err
	}
	closeT, err := f.Close(ctx)
	if err != nil {
		return nil, err
	}
	total, err := f.MarginTotal(ctx)
	if err != nil {
		return nil, err
	}

	out := models.NewTable("margin_maintenance_ratio", []string{"ratio"})
	for _, date := range balance.Dates {
		balRow, ok := balance.Row(date)
		if !ok {
			continue
		}
		closeRow, ok := closeT.Row(date)
		if !ok {
			continue
		}
		totalRow, ok := total.Row(date)
		if !ok {
			continue
		}

		// Margin positions are board lots of 1000 shares.
		marketValue := 0.0
		for stockID, shares := range balRow {
			price, has := closeRow[stockID]
			if !has || isNaN(shares) || isNaN(price) {
				continue
			}
			marketValue += shares * price * 1000
		}

		loan := 0.0
		for _, col := range []string{"上市融資交易金額", "上櫃融資交易金額"} {
			if v, has := totalRow[col]; has && !isNaN(v) {
				loan += v
			}
		}
		if loan <= 0 {
			continue
		}
		out.UpsertRow(date, map[string]float64{"ratio": marketValue / loan})
	}
	return out, nil
}

// PrewarmAll eagerly resolves every dataset.
func (f *Facade) PrewarmAll(ctx context.Context) ([]OpResult, time.Duration) {
	return f.m.PrewarmAll(ctx)
}
