package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go_twstock_backend/services/symbols"
)

// SymbolController serves the stock directory.
type SymbolController struct {
	symbols *symbols.Service
}

// NewSymbolController creates a new symbol controller
func NewSymbolController(svc *symbols.Service) *SymbolController {
	return &SymbolController{symbols: svc}
}

// List returns symbols with pagination.
// GET /api/v1/symbols?market=TWSE&page=1&limit=50
func (sc *SymbolController) List(c *gin.Context) {
	if sc.symbols == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Symbol directory unavailable"})
		return
	}

	market := c.Query("market")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	list, total, err := sc.symbols.List(market, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch symbols"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": list,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// Search finds symbols by id or name fragment.
// GET /api/v1/symbols/search?q=台積
func (sc *SymbolController) Search(c *gin.Context) {
	if sc.symbols == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Symbol directory unavailable"})
		return
	}

	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing query parameter q"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	list, err := sc.symbols.Search(q, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search symbols"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// Sync pulls the provider directory and upserts every symbol.
// POST /api/v1/symbols/sync
func (sc *SymbolController) Sync(c *gin.Context) {
	if sc.symbols == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Symbol directory unavailable"})
		return
	}

	n, err := sc.symbols.Sync(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Symbol sync failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": n})
}
