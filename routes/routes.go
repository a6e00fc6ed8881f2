package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"go_twstock_backend/controllers"
	"go_twstock_backend/middleware"
	"go_twstock_backend/services/marketdata"
	"go_twstock_backend/services/stream"
	"go_twstock_backend/services/symbols"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, manager *marketdata.Manager, facade *marketdata.Facade,
	views *marketdata.Views, symbolSvc *symbols.Service, hub *stream.Hub) {

	// Initialize controllers
	datasetController := controllers.NewDatasetController(manager)
	cacheController := controllers.NewCacheController(manager)
	marketController := controllers.NewMarketController(facade, views)
	symbolController := controllers.NewSymbolController(symbolSvc)

	// Pre-warm and forced refreshes fan out to the remote providers;
	// keep them behind a per-IP limit.
	expensive := middleware.NewRateLimiter(6, 10*time.Minute)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Dataset routes
		datasets := api.Group("/datasets")
		{
			datasets.GET("", datasetController.ListDatasets)
			datasets.GET("/:name", datasetController.GetDataset)
		}

		// Cache administration routes
		cache := api.Group("/cache")
		{
			cache.GET("/status", cacheController.Status)
			cache.POST("/prewarm", expensive.Middleware(), cacheController.Prewarm)
			cache.POST("/refresh", expensive.Middleware(), cacheController.RefreshAll)
			cache.POST("/refresh/:name", cacheController.RefreshOne)
			cache.DELETE("", cacheController.ClearAll)
			cache.DELETE("/:name", cacheController.ClearOne)
		}

		// Ranking routes
		rankings := api.Group("/rankings")
		{
			rankings.GET("/revenue", marketController.RevenueRanking)
			rankings.GET("/amount", marketController.TopAmount)
		}

		// Market routes
		market := api.Group("/market")
		{
			market.GET("/margin", marketController.MarginSummary)
			market.GET("/world/:code", marketController.WorldIndex)
			market.GET("/alerts", marketController.AlertCounts)
			market.GET("/indices", marketController.Indices)
		}

		// Symbol directory routes
		syms := api.Group("/symbols")
		{
			syms.GET("", symbolController.List)
			syms.GET("/search", symbolController.Search)
			syms.POST("/sync", symbolController.Sync)
		}
	}

	// Realtime index stream
	router.GET("/ws/market", hub.HandleWS)
}
