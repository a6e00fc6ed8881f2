package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go_twstock_backend/services/marketdata"
)

// CacheController exposes the cache administration operations:
// pre-warm, forced refresh, and clearing.
type CacheController struct {
	manager *marketdata.Manager
}

// NewCacheController creates a new cache controller
func NewCacheController(manager *marketdata.Manager) *CacheController {
	return &CacheController{manager: manager}
}

// Prewarm eagerly resolves every registered dataset so the first real
// user request hits a warm cache.
// POST /api/v1/cache/prewarm
func (cc *CacheController) Prewarm(c *gin.Context) {
	results, elapsed := cc.manager.PrewarmAll(c.Request.Context())

	failed := 0
	for _, r := range results {
		if r.Err != "" {
			failed++
		}
	}

	status := http.StatusOK
	if failed == len(results) && len(results) > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"datasets":   results,
		"failed":     failed,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// RefreshAll forces a refresh of every dataset.
// POST /api/v1/cache/refresh
func (cc *CacheController) RefreshAll(c *gin.Context) {
	results, elapsed := cc.manager.RefreshAll(c.Request.Context())

	failed := 0
	for _, r := range results {
		if r.Err != "" {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"datasets":   results,
		"failed":     failed,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// RefreshOne forces a refresh of a single dataset.
// POST /api/v1/cache/refresh/:name
func (cc *CacheController) RefreshOne(c *gin.Context) {
	name := c.Param("name")
	table, err := cc.manager.Refresh(c.Request.Context(), name)
	if err != nil {
		respondDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"rows":      table.RowCount(),
		"last_date": table.LastDate(),
	})
}

// ClearAll deletes every persisted entry and evicts all memory
// copies.
// DELETE /api/v1/cache
func (cc *CacheController) ClearAll(c *gin.Context) {
	if err := cc.manager.ClearAll(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// ClearOne clears a single dataset.
// DELETE /api/v1/cache/:name
func (cc *CacheController) ClearOne(c *gin.Context) {
	name := c.Param("name")
	if err := cc.manager.Clear(name); err != nil {
		respondDataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "name": name})
}

// Status reports the cache state of every dataset without touching
// the remote providers.
// GET /api/v1/cache/status
func (cc *CacheController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": cc.manager.Status()})
}
