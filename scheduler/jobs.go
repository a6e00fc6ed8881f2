package scheduler

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go_twstock_backend/services/marketdata"
)

// jobTimeout bounds one scheduled run; a full refresh of every
// dataset can take tens of seconds against the live providers.
const jobTimeout = 10 * time.Minute

// refreshRealtimeIndices refreshes only the realtime index datasets.
func (s *Scheduler) refreshRealtimeIndices() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, name := range []string{marketdata.DatasetTSEIndex, marketdata.DatasetOTCIndex} {
		if _, err := s.manager.Get(ctx, name); err != nil {
			log.Printf("Error refreshing %s: %v", name, err)
		}
	}
}

// refreshAllDatasets forces a refresh of every registered dataset.
func (s *Scheduler) refreshAllDatasets() {
	log.Println("Running scheduled full refresh...")

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	results, elapsed := s.manager.RefreshAll(ctx)
	failed := 0
	for _, r := range results {
		if r.Err != "" {
			failed++
		}
	}
	log.Printf("Scheduled refresh completed: %d datasets, %d failed, %s elapsed",
		len(results), failed, elapsed.Round(time.Millisecond))
}

// cleanupOldLogs removes run log files older than the retention
// period.
func (s *Scheduler) cleanupOldLogs() {
	deleted, err := CleanupOldLogs(s.logsDir, s.logRetentionDays)
	if err != nil {
		log.Printf("Error cleaning up logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Deleted %d old log files", deleted)
	}
}

// CleanupOldLogs deletes *_log.txt files under dir whose modification
// time is more than days old. Shared with the update_cache script.
func CleanupOldLogs(dir string, days int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_log.txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
