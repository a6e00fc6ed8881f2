// Package scheduler runs the in-process refresh jobs:
// - realtime index snapshots every minute during trading hours
// - full historical refresh on trading-day mornings
// - weekly log cleanup
//
// External cron invoking scripts/update_cache remains the primary
// refresh path; this scheduler is an optional convenience for
// single-container deployments (SCHEDULER_ENABLED=true). Timer state
// lives in the process, so a restart resets the schedule.
package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"go_twstock_backend/services/marketdata"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron             *gocron.Scheduler
	manager          *marketdata.Manager
	logsDir          string
	logRetentionDays int
}

// NewScheduler creates a new scheduler instance
func NewScheduler(manager *marketdata.Manager, logsDir string, logRetentionDays int) *Scheduler {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:             gocron.NewScheduler(loc),
		manager:          manager,
		logsDir:          logsDir,
		logRetentionDays: logRetentionDays,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Refresh realtime index snapshots every minute during trading hours
	s.cron.Every(1).Minute().Do(func() {
		if marketdata.IsTradingHours(time.Now()) {
			s.refreshRealtimeIndices()
		}
	})

	// Full refresh on trading-day mornings before the session opens
	s.cron.Every(1).Day().At("07:30").Do(func() {
		if isWeekday(time.Now()) {
			s.refreshAllDatasets()
		}
	})

	// Cleanup old run logs weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupOldLogs()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

func isWeekday(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}
