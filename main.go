package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"go_twstock_backend/config"
	"go_twstock_backend/routes"
	"go_twstock_backend/scheduler"
	"go_twstock_backend/services/finlab"
	"go_twstock_backend/services/marketdata"
	"go_twstock_backend/services/shioaji"
	"go_twstock_backend/services/stream"
	"go_twstock_backend/services/symbols"
)

func main() {
	log.Println("==============================================")
	log.Println("  TW Stock Dashboard Backend - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Remote provider clients
	finlabClient := finlab.NewClient(cfg.FinLabAPIURL, cfg.FinLabToken)
	shioajiClient := shioaji.NewClient(cfg.ShioajiAPIURL, cfg.ShioajiAPIKey)

	// Cache layers: file store + policy + manager
	store, err := marketdata.NewFileStore(cfg.CacheDir)
	if err != nil {
		log.Fatalf("Failed to initialize cache store: %v", err)
	}
	policy := marketdata.NewPolicy(cfg.HistCacheHours, cfg.FastCacheHours, cfg.RealtimeCacheSeconds)
	manager := marketdata.NewManager(store, policy, marketdata.BuildDatasets(finlabClient, shioajiClient))
	facade := marketdata.NewFacade(manager)

	// Symbol directory (optional: the API degrades to 503 on its
	// endpoints when the local database cannot be opened)
	var symbolSvc *symbols.Service
	if svc, err := symbols.NewService(cfg.SymbolDBPath, finlabClient); err != nil {
		log.Printf("Warning: symbol directory unavailable: %v", err)
	} else {
		symbolSvc = svc
	}

	var namer marketdata.Namer
	if symbolSvc != nil {
		namer = symbolSvc
	}
	views := marketdata.NewViews(facade, namer)

	// Realtime stream hub, fed by the manager's realtime merges
	hub := stream.NewHub()
	manager.OnRealtimeUpdate(hub.Broadcast)

	// Health endpoints first, then the API
	setupHealthEndpoints(router, manager)
	routes.SetupRoutes(router, manager, facade, views, symbolSvc, hub)

	// Optional in-process scheduler; external cron running
	// scripts/update_cache is the primary refresh path
	var jobScheduler *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		jobScheduler = scheduler.NewScheduler(manager, cfg.LogsDir, cfg.LogRetentionDays)
		jobScheduler.Start()
	}

	// Create HTTP server with timeouts; full-table responses can be
	// large, so the write timeout is generous
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, jobScheduler)
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, manager *marketdata.Manager) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "TW Stock Dashboard Backend",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness probe - reports how much of the cache is warm
	router.GET("/ready", func(c *gin.Context) {
		warm := 0
		statuses := manager.Status()
		for _, s := range statuses {
			if s.InMemory {
				warm++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "ready",
			"datasets":      len(statuses),
			"warm_datasets": warm,
		})
	})
}

// requestLogger logs each request with method, path, status and latency
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("%s %s %d %s",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Round(time.Millisecond),
		)
	}
}

// gracefulShutdown waits for SIGINT/SIGTERM and drains the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if jobScheduler != nil {
		jobScheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
