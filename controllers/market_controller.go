package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go_twstock_backend/services/marketdata"
)

// MarketController serves the derived dashboard views.
type MarketController struct {
	facade *marketdata.Facade
	views  *marketdata.Views
}

// NewMarketController creates a new market controller
func NewMarketController(facade *marketdata.Facade, views *marketdata.Views) *MarketController {
	return &MarketController{facade: facade, views: views}
}

// RevenueRanking returns the monthly revenue ranking.
// GET /api/v1/rankings/revenue?sort=yoy&top=100
func (mc *MarketController) RevenueRanking(c *gin.Context) {
	sortBy := c.DefaultQuery("sort", "yoy")
	top, _ := strconv.Atoi(c.DefaultQuery("top", "100"))

	rows, err := mc.views.RevenueRanking(c.Request.Context(), sortBy, top)
	if err != nil {
		respondDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// TopAmount returns the trade-amount ranking for a day.
// GET /api/v1/rankings/amount?offset=0&top=100
func (mc *MarketController) TopAmount(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	top, _ := strconv.Atoi(c.DefaultQuery("top", "100"))

	rows, err := mc.views.TopAmount(c.Request.Context(), offset, top)
	if err != nil {
		respondDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// MarginSummary returns the margin loan series and the derived
// maintenance ratio.
// GET /api/v1/market/margin?tail=120
func (mc *MarketController) MarginSummary(c *gin.Context) {
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "120"))
	ctx := c.Request.Context()

	ratio, err := mc.facade.MarginMaintenanceRatio(ctx)
	if err != nil {
		respondDataError(c, err)
		return
	}
	total, err := mc.facade.MarginTotal(ctx)
	if err != nil {
		respondDataError(c, err)
		return
	}
	netBuying, err := mc.views.MarginNetBuying(ctx)
	if err != nil {
		respondDataError(c, err)
		return
	}
	benchmark, err := mc.facade.Benchmark(ctx)
	if err != nil {
		respondDataError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"maintenance_ratio": ratio.Tail(tail),
		"margin_total":      total.Tail(tail),
		"net_buying":        netBuying.Tail(tail),
		"benchmark":         benchmark.Tail(tail),
	})
}

// WorldIndex returns OHLCV plus moving averages for one world index.
// GET /api/v1/market/world/:code?days=360
func (mc *MarketController) WorldIndex(c *gin.Context) {
	code := c.Param("code")
	days, _ := strconv.Atoi(c.DefaultQuery("days", "360"))

	table, err := mc.views.WorldIndexView(c.Request.Context(), code, days)
	if err != nil {
		respondDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": table})
}

// AlertCounts returns per-day disposal and noticed stock counts.
// GET /api/v1/market/alerts?days=30
func (mc *MarketController) AlertCounts(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	counts, err := mc.views.AlertStockCounts(c.Request.Context(), days)
	if err != nil {
		respondDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": counts})
}

// Indices returns the latest realtime rows for both market indices.
// GET /api/v1/market/indices?tail=120
func (mc *MarketController) Indices(c *gin.Context) {
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "120"))
	ctx := c.Request.Context()

	tse, err := mc.facade.TSEIndex(ctx)
	if err != nil {
		respondDataError(c, err)
		return
	}
	otc, err := mc.facade.OTCIndex(ctx)
	if err != nil {
		respondDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tse": tse.Tail(tail),
		"otc": otc.Tail(tail),
	})
}
