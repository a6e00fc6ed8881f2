// update_cache is the out-of-process cache refresh job, intended to
// be run by cron on trading-day mornings:
//
//	30 7 * * 1-5 cd /path/to/project && ./update_cache
//
// It force-refreshes every registered dataset, prunes persisted cache
// entries older than the retention window, and writes a run summary
// to a timestamped log file under LOGS_DIR. Old run logs are deleted
// after LOG_RETENTION_DAYS.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"go_twstock_backend/config"
	"go_twstock_backend/scheduler"
	"go_twstock_backend/services/finlab"
	"go_twstock_backend/services/marketdata"
	"go_twstock_backend/services/shioaji"
)

const runTimeout = 20 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Per-run log file: YYYYMMDDHHMM_log.txt, mirrored to stdout
	if err := os.MkdirAll(cfg.LogsDir, 0755); err != nil {
		log.Fatalf("Failed to create logs directory: %v", err)
	}
	logName := time.Now().Format("200601021504") + "_log.txt"
	logFile, err := os.OpenFile(filepath.Join(cfg.LogsDir, logName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	start := time.Now()
	log.Println("======================================================")
	log.Println("Cache update starting")
	log.Printf("Run log: %s", logName)
	log.Println("======================================================")

	// Prune old run logs first so failed runs still clean up
	if deleted, err := scheduler.CleanupOldLogs(cfg.LogsDir, cfg.LogRetentionDays); err != nil {
		log.Printf("Warning: log cleanup failed: %v", err)
	} else if deleted > 0 {
		log.Printf("Deleted %d log files older than %d days", deleted, cfg.LogRetentionDays)
	}

	store, err := marketdata.NewFileStore(cfg.CacheDir)
	if err != nil {
		log.Fatalf("Failed to open cache store: %v", err)
	}
	policy := marketdata.NewPolicy(cfg.HistCacheHours, cfg.FastCacheHours, cfg.RealtimeCacheSeconds)

	finlabClient := finlab.NewClient(cfg.FinLabAPIURL, cfg.FinLabToken)
	shioajiClient := shioaji.NewClient(cfg.ShioajiAPIURL, cfg.ShioajiAPIKey)
	manager := marketdata.NewManager(store, policy, marketdata.BuildDatasets(finlabClient, shioajiClient))

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	// Force-refresh every dataset; failures are per-dataset, the run
	// continues and reports them in the summary
	results, elapsed := manager.RefreshAll(ctx)

	// Retention sweep over the persisted entries
	cutoff := time.Now().AddDate(0, 0, -cfg.CacheRetentionDays)
	pruned, err := store.PruneOlderThan(cutoff)
	if err != nil {
		log.Printf("Warning: cache retention sweep failed: %v", err)
	} else if pruned > 0 {
		log.Printf("Pruned %d cache entries older than %d days", pruned, cfg.CacheRetentionDays)
	}

	// Run summary
	failed := 0
	log.Println("------------------------------------------------------")
	for _, r := range results {
		if r.Err != "" {
			failed++
			log.Printf("FAIL %-22s %s", r.Name, r.Err)
		} else {
			log.Printf("OK   %-22s %6d rows  %5dms", r.Name, r.Rows, r.ElapsedMS)
		}
	}
	log.Println("------------------------------------------------------")
	log.Printf("Cache update finished: %d datasets, %d failed, %s elapsed (total %s)",
		len(results), failed, elapsed.Round(time.Millisecond), time.Since(start).Round(time.Millisecond))

	if failed == len(results) && len(results) > 0 {
		fmt.Fprintln(os.Stderr, "all datasets failed to refresh")
		os.Exit(1)
	}
}
