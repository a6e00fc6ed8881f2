package marketdata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go_twstock_backend/models"
)

func isNaN(f float64) bool { return math.IsNaN(f) }

// Namer resolves stock ids to display names. The symbol directory
// implements it; views fall back to the bare id when no name exists.
type Namer interface {
	Name(stockID string) string
}

// noopNamer is used when no symbol directory is configured.
type noopNamer struct{}

func (noopNamer) Name(string) string { return "" }

// Views computes the derived dashboard tables (rankings, counts,
// index overlays) on top of the facade.
type Views struct {
	facade *Facade
	namer  Namer
}

// NewViews builds the view layer. namer may be nil.
func NewViews(f *Facade, namer Namer) *Views {
	if namer == nil {
		namer = noopNamer{}
	}
	return &Views{facade: f, namer: namer}
}

// RevenueRow is one entry of the monthly revenue ranking.
type RevenueRow struct {
	Rank       int     `json:"rank"`
	StockID    string  `json:"stock_id"`
	Name       string  `json:"name"`
	RevenueE8  float64 `json:"revenue_e8"` // 億
	YoY        float64 `json:"yoy_pct"`
	MoM        float64 `json:"mom_pct"`
	AmountE8   float64 `json:"amount_e8"` // 億
	MAAlign    string  `json:"ma_alignment"`
	PeriodDate string  `json:"period_date"`
}

// RevenueRanking ranks stocks by monthly revenue momentum. sortBy is
// one of yoy, mom, revenue, amount.
func (v *Views) RevenueRanking(ctx context.Context, sortBy string, topN int) ([]RevenueRow, error) {
	rev, err := v.facade.MonthlyRevenue(ctx)
	if err != nil {
		return nil, err
	}
	yoy, err := v.facade.RevenueYoY(ctx)
	if err != nil {
		return nil, err
	}
	mom, err := v.facade.RevenueMoM(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := v.facade.Amount(ctx)
	if err != nil {
		return nil, err
	}
	closeT, err := v.facade.Close(ctx)
	if err != nil {
		return nil, err
	}

	revDate := rev.LastDate()
	amtDate := amount.LastDate()
	if revDate == "" || amtDate == "" {
		return nil, fmt.Errorf("revenue ranking: no data rows available")
	}

	revRow, _ := rev.Row(revDate)
	yoyRow, _ := yoy.Row(revDate)
	momRow, _ := mom.Row(revDate)
	amtRow, _ := amount.Row(amtDate)

	var rows []RevenueRow
	for stockID, revenue := range revRow {
		y, hasY := yoyRow[stockID]
		m, hasM := momRow[stockID]
		a, hasA := amtRow[stockID]
		if isNaN(revenue) || !hasY || isNaN(y) || !hasM || isNaN(m) || !hasA || isNaN(a) {
			continue
		}
		rows = append(rows, RevenueRow{
			StockID: stockID,
			Name:    v.namer.Name(stockID),
			// Provider reports revenue in thousands.
			RevenueE8:  revenue * 1000 / 1e8,
			YoY:        y,
			MoM:        m,
			AmountE8:   a / 1e8,
			MAAlign:    MAStatus(closeT, stockID),
			PeriodDate: revDate,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		switch sortBy {
		case "mom":
			return rows[i].MoM > rows[j].MoM
		case "revenue":
			return rows[i].RevenueE8 > rows[j].RevenueE8
		case "amount":
			return rows[i].AmountE8 > rows[j].AmountE8
		default: // yoy
			return rows[i].YoY > rows[j].YoY
		}
	})

	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// AmountRow is one entry of the trade-amount ranking.
type AmountRow struct {
	Rank     int     `json:"rank"`
	StockID  string  `json:"stock_id"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	AmountE8 float64 `json:"amount_e8"`
	Date     string  `json:"date"`
}

// TopAmount ranks stocks by trade amount for a day. dateOffset 0 is
// the latest trading day, 1 the one before, and so on.
func (v *Views) TopAmount(ctx context.Context, dateOffset, topN int) ([]AmountRow, error) {
	amount, err := v.facade.Amount(ctx)
	if err != nil {
		return nil, err
	}
	if amount.RowCount() == 0 {
		return nil, fmt.Errorf("top amount: no data rows available")
	}

	idx := amount.RowCount() - 1 - dateOffset
	if idx < 0 {
		idx = 0
	}
	date := amount.Dates[idx]
	dayRow, _ := amount.Row(date)

	var rows []AmountRow
	for stockID, amt := range dayRow {
		if isNaN(amt) {
			continue
		}
		rows = append(rows, AmountRow{
			StockID:  stockID,
			Name:     v.namer.Name(stockID),
			Amount:   amt,
			AmountE8: amt / 1e8,
			Date:     date,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Amount > rows[j].Amount })

	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// AlertCounts is the per-day number of stocks under disposal or
// notice status.
type AlertCounts struct {
	Dates    []string `json:"dates"`
	Disposal []int    `json:"disposal"`
	Noticed  []int    `json:"noticed"`
}

// AlertStockCounts counts flagged stocks per weekday over the last
// days trading days. In the provider's filter tables a false cell
// (0) marks a flagged stock.
func (v *Views) AlertStockCounts(ctx context.Context, days int) (*AlertCounts, error) {
	disposal, err := v.facade.DisposalStock(ctx)
	if err != nil {
		return nil, err
	}
	noticed, err := v.facade.NoticedStock(ctx)
	if err != nil {
		return nil, err
	}

	counts := func(t *models.Table, date string) int {
		row, ok := t.Row(date)
		if !ok {
			return 0
		}
		n := 0
		for _, cell := range row {
			if !isNaN(cell) && cell == 0 {
				n++
			}
		}
		return n
	}

	tail := disposal.Tail(days)
	out := &AlertCounts{}
	for _, date := range tail.Dates {
		out.Dates = append(out.Dates, date)
		out.Disposal = append(out.Disposal, counts(disposal, date))
		out.Noticed = append(out.Noticed, counts(noticed, date))
	}
	return out, nil
}

// MarginNetBuying derives the day-over-day change of the margin loan
// balance (融資買賣超) for the listed and OTC boards from the raw
// balance series.
func (v *Views) MarginNetBuying(ctx context.Context) (*models.Table, error) {
	total, err := v.facade.MarginTotal(ctx)
	if err != nil {
		return nil, err
	}

	out := models.NewTable("margin_net_buying", []string{"上市融資買賣超", "上櫃融資買賣超"})
	pairs := map[string]string{
		"上市融資交易金額": "上市融資買賣超",
		"上櫃融資交易金額": "上櫃融資買賣超",
	}
	for src, dst := range pairs {
		dates, values := total.Column(src)
		for i := 1; i < len(dates); i++ {
			out.UpsertRow(dates[i], map[string]float64{dst: values[i] - values[i-1]})
		}
	}
	return out, nil
}

// WorldIndexView assembles OHLCV plus MA20/60/120 overlays for one
// world index code over the last days rows.
func (v *Views) WorldIndexView(ctx context.Context, code string, days int) (*models.Table, error) {
	parts := []string{"open", "high", "low", "close", "vol"}
	series := make(map[string]map[string]float64, len(parts))
	for _, part := range parts {
		t, err := v.facade.WorldIndex(ctx, part)
		if err != nil {
			return nil, err
		}
		dates, values := t.Column(code)
		if dates == nil {
			return nil, fmt.Errorf("%w: world index code %s", ErrUnknownDataset, code)
		}
		byDate := make(map[string]float64, len(dates))
		for i, d := range dates {
			byDate[d] = values[i]
		}
		series[part] = byDate
	}

	out := models.NewTable(code, []string{"open", "high", "low", "close", "volume"})
	for date, closeV := range series["close"] {
		row := map[string]float64{"close": closeV}
		for _, part := range []string{"open", "high", "low"} {
			if val, ok := series[part][date]; ok {
				row[part] = val
			}
		}
		vol := series["vol"][date]
		if isNaN(vol) {
			vol = 0
		}
		row["volume"] = vol
		out.UpsertRow(date, row)
	}

	// Weekends and holidays (all-zero rows) are not trading days;
	// drop them before MAs.
	filtered := models.NewTable(code, out.Columns)
	for _, date := range out.Dates {
		if d, err := time.Parse(models.DateLayout, date); err == nil &&
			(d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
			continue
		}
		row, _ := out.Row(date)
		if row["open"] == row["high"] && row["high"] == row["low"] &&
			row["low"] == row["close"] && row["close"] == 0 {
			continue
		}
		filtered.UpsertRow(date, row)
	}

	addMovingAverages(filtered, "close", []int{20, 60, 120})
	return filtered.Tail(days), nil
}

// addMovingAverages appends maN columns computed over one source
// column.
func addMovingAverages(t *models.Table, source string, windows []int) {
	dates, values := t.Column(source)
	for _, w := range windows {
		col := fmt.Sprintf("ma%d", w)
		sum := 0.0
		for i, d := range dates {
			sum += values[i]
			if i >= w {
				sum -= values[i-w]
			}
			if i >= w-1 {
				t.UpsertRow(d, map[string]float64{col: sum / float64(w)})
			}
		}
	}
}

// MAStatus classifies the 5/20/60-day moving average alignment of a
// stock's close series.
func MAStatus(closeT *models.Table, stockID string) string {
	_, values := closeT.Column(stockID)
	if len(values) < 60 {
		return "資料不足"
	}

	ma := func(n int) float64 {
		sum := 0.0
		for _, v := range values[len(values)-n:] {
			sum += v
		}
		return sum / float64(n)
	}
	ma5, ma20, ma60 := ma(5), ma(20), ma(60)

	switch {
	case ma5 > ma20 && ma20 > ma60:
		return "多頭排列"
	case ma5 > ma20 && ma20 < ma60:
		return "谷底反彈"
	case ma5 < ma20 && ma20 < ma60:
		return "空頭排列"
	case ma5 < ma20 && ma20 > ma60:
		return "短期修正"
	default:
		return "盤整"
	}
}
