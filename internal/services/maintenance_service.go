package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/detection"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
)

// MaintenanceSchedule holds cron specs for the periodic jobs.
type MaintenanceSchedule struct {
	Expiry               string // block expiry, lock cleanup and window sweep
	Purge                string // failed-login ledger purge
	FailedLoginRetention time.Duration
}

// MaintenanceService runs expiry and purge jobs off the request path. Job failures are
// logged and counted, never propagated.
type MaintenanceService struct {
	Cron       *cron.Cron
	mitigation *MitigationService
	ledger     *FailedLoginLedger
	tracker    *detection.ProbeTracker
	retention  time.Duration
}

// NewMaintenanceService schedules the jobs on a new cron. Call Start to run them.
func NewMaintenanceService(mitigation *MitigationService, ledger *FailedLoginLedger, tracker *detection.ProbeTracker, schedule MaintenanceSchedule) (*MaintenanceService, error) {
	if schedule.Expiry == "" {
		schedule.Expiry = "@every 1m"
	}
	if schedule.Purge == "" {
		schedule.Purge = "@daily"
	}
	if schedule.FailedLoginRetention <= 0 {
		schedule.FailedLoginRetention = 7 * 24 * time.Hour
	}

	s := &MaintenanceService{
		Cron:       cron.New(),
		mitigation: mitigation,
		ledger:     ledger,
		tracker:    tracker,
		retention:  schedule.FailedLoginRetention,
	}
	if _, err := s.Cron.AddFunc(schedule.Expiry, func() {
		s.RunExpiry(context.Background())
		s.RunWindowSweep()
	}); err != nil {
		return nil, fmt.Errorf("schedule expiry job %q: %w", schedule.Expiry, err)
	}
	if _, err := s.Cron.AddFunc(schedule.Purge, func() {
		s.RunPurge(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("schedule purge job %q: %w", schedule.Purge, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *MaintenanceService) Start() {
	s.Cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *MaintenanceService) Stop() {
	<-s.Cron.Stop().Done()
}

func record(job string, err error, fields logrus.Fields) {
	log := logger.WithFields(fields).WithField("job", job)
	if err != nil {
		metrics.IncMaintenanceRun(job, "error")
		log.WithError(err).Error("maintenance job failed")
		return
	}
	metrics.IncMaintenanceRun(job, "ok")
	log.Debug("maintenance job finished")
}

// RunExpiry deactivates expired auto-unblock blocks and removes expired locks.
func (s *MaintenanceService) RunExpiry(ctx context.Context) (blocks, locks int64) {
	blocks, err := s.mitigation.ExpireBlocks(ctx)
	record("expire_blocks", err, logrus.Fields{"expired": blocks})
	locks, err = s.mitigation.ExpireLocks(ctx)
	record("expire_locks", err, logrus.Fields{"expired": locks})
	return blocks, locks
}

// RunPurge deletes failed-login ledger rows past the retention period.
func (s *MaintenanceService) RunPurge(ctx context.Context) int64 {
	n, err := s.ledger.Purge(ctx, s.retention)
	record("purge_failed_logins", err, logrus.Fields{"purged": n})
	return n
}

// RunWindowSweep drops idle sliding window keys.
func (s *MaintenanceService) RunWindowSweep() int {
	if s.tracker == nil {
		return 0
	}
	n := s.tracker.Sweep()
	record("window_sweep", nil, logrus.Fields{"removed": n, "tracked": s.tracker.Keys()})
	return n
}
