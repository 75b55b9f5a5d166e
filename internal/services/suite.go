package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/detection"
	"github.com/Wikid82/warden/internal/scoring"
)

// Suite is the fully wired security engine.
type Suite struct {
	Events      *AttackEventService
	Ledger      *FailedLoginLedger
	Users       *UserService
	Rules       *RuleService
	Mitigation  *MitigationService
	Engine      *ResponseEngine
	Monitor     *MonitorService
	Security    *SecurityService
	Maintenance *MaintenanceService

	db *gorm.DB
}

// NewSuite builds every service over db from the security configuration. A nil alerter
// uses shoutrrr with the configured alert URLs.
func NewSuite(db *gorm.DB, cfg config.SecurityConfig, alerter Alerter) (*Suite, error) {
	if alerter == nil {
		alerter = NewShoutrrrAlerter(cfg.AlertURLs)
	}

	events := NewAttackEventService(db)
	ledger := NewFailedLoginLedger(db)
	users := NewUserService(db)
	rules := NewRuleService(db)
	mitigation := NewMitigationService(db, alerter, MitigationPolicy{
		AutoBlock:      cfg.AutoBlockDuration,
		RateLimitBlock: cfg.RateLimitBlockDuration,
		AutoLock:       cfg.AutoLockDuration,
	})
	engine := NewResponseEngine(rules, events, ledger, users, mitigation)
	tracker := detection.NewProbeTracker(detection.ProbeLimits{
		NotFoundWindow:    cfg.NotFoundWindow,
		NotFoundThreshold: cfg.NotFoundThreshold,
		RateWindow:        cfg.RequestRateWindow,
		RateThreshold:     cfg.RequestRateThreshold,
	})
	scorer := scoring.NewScorer(events, cfg.AdminPrefixes)
	monitor := NewMonitorService(db, users, scorer, engine, tracker, cfg.AdminPrefixes)

	maintenance, err := NewMaintenanceService(mitigation, ledger, tracker, MaintenanceSchedule{
		Expiry:               cfg.ExpirySchedule,
		Purge:                cfg.PurgeSchedule,
		FailedLoginRetention: cfg.FailedLoginRetention,
	})
	if err != nil {
		return nil, err
	}

	return &Suite{
		Events:      events,
		Ledger:      ledger,
		Users:       users,
		Rules:       rules,
		Mitigation:  mitigation,
		Engine:      engine,
		Monitor:     monitor,
		Security:    NewSecurityService(db),
		Maintenance: maintenance,
		db:          db,
	}, nil
}

// Ping checks that the event store answers.
func (s *Suite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storageError("open database handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storageError("ping database", err)
	}
	return nil
}
