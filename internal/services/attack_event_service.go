package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/models"
)

// DefaultListLimit caps list queries that were not given a limit.
const DefaultListLimit = 50

// HighRiskThreshold is the risk score counted as high risk in statistics.
const HighRiskThreshold = 70

// AttackEventService is the append-and-query store for attack events.
type AttackEventService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAttackEventService returns an AttackEventService using the provided DB.
func NewAttackEventService(db *gorm.DB) *AttackEventService {
	return &AttackEventService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EventStats aggregates the event history.
type EventStats struct {
	Total          int64            `json:"total"`
	ByType         map[string]int64 `json:"by_type"`
	BySeverity     map[string]int64 `json:"by_severity"`
	Last24Hours    int64            `json:"last_24_hours"`
	HighRisk       int64            `json:"high_risk"`
	HighRiskCutoff int              `json:"high_risk_threshold"`
	Actionable     int64            `json:"actionable"`
}

// EventPage is one page of the event history, newest first.
type EventPage struct {
	Events  []models.AttackEvent `json:"events"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
	Total   int64                `json:"total"`
}

// EventChain is an event with its cause and the events that reference it.
type EventChain struct {
	Event   models.AttackEvent   `json:"event"`
	Parent  *models.AttackEvent  `json:"parent,omitempty"`
	Related []models.AttackEvent `json:"related"`
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Create appends e. The timestamp defaults to now.
func (s *AttackEventService) Create(ctx context.Context, e *models.AttackEvent) error {
	return createEvent(s.db.WithContext(ctx), e, s.now)
}

func createEvent(tx *gorm.DB, e *models.AttackEvent, now func() time.Time) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	if err := tx.Create(e).Error; err != nil {
		return storageError("create attack event", err)
	}
	return nil
}

// Get returns the event with id.
func (s *AttackEventService) Get(ctx context.Context, id uint) (*models.AttackEvent, error) {
	var e models.AttackEvent
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, notFoundOr(err, ErrEventNotFound, "get attack event")
	}
	return &e, nil
}

// RecentByIP returns the events from ip within window, newest first.
func (s *AttackEventService) RecentByIP(ctx context.Context, ip string, window time.Duration) ([]models.AttackEvent, error) {
	var res []models.AttackEvent
	err := s.db.WithContext(ctx).
		Where("source_ip = ? AND timestamp > ?", ip, s.now().Add(-window)).
		Order("timestamp desc, id desc").
		Find(&res).Error
	if err != nil {
		return nil, storageError("recent events by ip", err)
	}
	return res, nil
}

// CountByIPSince counts events from ip after since.
func (s *AttackEventService) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AttackEvent{}).
		Where("source_ip = ? AND timestamp > ?", ip, since).
		Count(&n).Error
	if err != nil {
		return 0, storageError("count events by ip", err)
	}
	return n, nil
}

// CountByTypeAndIPSince counts events of one type from ip after since.
func (s *AttackEventService) CountByTypeAndIPSince(ctx context.Context, t models.AttackType, ip string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AttackEvent{}).
		Where("attack_type = ? AND source_ip = ? AND timestamp > ?", t, ip, since).
		Count(&n).Error
	if err != nil {
		return 0, storageError("count events by type and ip", err)
	}
	return n, nil
}

// ByType returns the newest events of type t.
func (s *AttackEventService) ByType(ctx context.Context, t models.AttackType, limit int) ([]models.AttackEvent, error) {
	var res []models.AttackEvent
	err := s.db.WithContext(ctx).
		Where("attack_type = ?", t).
		Order("timestamp desc, id desc").
		Limit(limitOrDefault(limit)).
		Find(&res).Error
	if err != nil {
		return nil, storageError("events by type", err)
	}
	return res, nil
}

// HighRisk returns events scoring at or above threshold, riskiest then newest first.
func (s *AttackEventService) HighRisk(ctx context.Context, threshold, limit int) ([]models.AttackEvent, error) {
	var res []models.AttackEvent
	err := s.db.WithContext(ctx).
		Where("risk_score >= ?", threshold).
		Order("risk_score desc, timestamp desc, id desc").
		Limit(limitOrDefault(limit)).
		Find(&res).Error
	if err != nil {
		return nil, storageError("high risk events", err)
	}
	return res, nil
}

func actionableScope(db *gorm.DB) *gorm.DB {
	return db.Where("recommended_action <> '' AND recommended_action <> ? AND action_taken IS NULL", models.RecommendLogOnly)
}

// Actionable returns events with a pending recommendation, riskiest first.
func (s *AttackEventService) Actionable(ctx context.Context, limit int) ([]models.AttackEvent, error) {
	var res []models.AttackEvent
	err := actionableScope(s.db.WithContext(ctx)).
		Order("risk_score desc, timestamp desc, id desc").
		Limit(limitOrDefault(limit)).
		Find(&res).Error
	if err != nil {
		return nil, storageError("actionable events", err)
	}
	return res, nil
}

// Chain returns the event with id, the event it points back to and every event pointing at it.
func (s *AttackEventService) Chain(ctx context.Context, id uint) (*EventChain, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	chain := &EventChain{Event: *e, Related: []models.AttackEvent{}}

	if e.RelatedEventID != nil {
		var parent models.AttackEvent
		err := s.db.WithContext(ctx).First(&parent, *e.RelatedEventID).Error
		switch {
		case err == nil:
			chain.Parent = &parent
		case !isNotFound(err):
			return nil, storageError("get parent event", err)
		}
	}

	if err := s.db.WithContext(ctx).
		Where("related_event_id = ?", id).
		Order("timestamp asc, id asc").
		Find(&chain.Related).Error; err != nil {
		return nil, storageError("get related events", err)
	}
	return chain, nil
}

// Stats aggregates counts over the whole history.
func (s *AttackEventService) Stats(ctx context.Context) (*EventStats, error) {
	db := s.db.WithContext(ctx)
	stats := &EventStats{
		ByType:         map[string]int64{},
		BySeverity:     map[string]int64{},
		HighRiskCutoff: HighRiskThreshold,
	}

	if err := db.Model(&models.AttackEvent{}).Count(&stats.Total).Error; err != nil {
		return nil, storageError("count events", err)
	}

	type bucket struct {
		Name  string
		Count int64
	}
	var byType []bucket
	if err := db.Model(&models.AttackEvent{}).
		Select("attack_type AS name, COUNT(*) AS count").
		Group("attack_type").
		Scan(&byType).Error; err != nil {
		return nil, storageError("count events by type", err)
	}
	for _, b := range byType {
		stats.ByType[b.Name] = b.Count
	}

	var bySeverity []bucket
	if err := db.Model(&models.AttackEvent{}).
		Select("severity AS name, COUNT(*) AS count").
		Group("severity").
		Scan(&bySeverity).Error; err != nil {
		return nil, storageError("count events by severity", err)
	}
	for _, b := range bySeverity {
		stats.BySeverity[b.Name] = b.Count
	}

	if err := db.Model(&models.AttackEvent{}).
		Where("timestamp > ?", s.now().Add(-24*time.Hour)).
		Count(&stats.Last24Hours).Error; err != nil {
		return nil, storageError("count recent events", err)
	}
	if err := db.Model(&models.AttackEvent{}).
		Where("risk_score >= ?", HighRiskThreshold).
		Count(&stats.HighRisk).Error; err != nil {
		return nil, storageError("count high risk events", err)
	}
	if err := actionableScope(db.Model(&models.AttackEvent{})).Count(&stats.Actionable).Error; err != nil {
		return nil, storageError("count actionable events", err)
	}
	return stats, nil
}

// List returns page (1-based) of the history, newest first.
func (s *AttackEventService) List(ctx context.Context, page, perPage int) (*EventPage, error) {
	if page < 1 {
		page = 1
	}
	perPage = limitOrDefault(perPage)
	if perPage > 500 {
		perPage = 500
	}

	res := &EventPage{Page: page, PerPage: perPage, Events: []models.AttackEvent{}}
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.AttackEvent{}).Count(&res.Total).Error; err != nil {
		return nil, storageError("count events", err)
	}
	if err := db.Order("timestamp desc, id desc").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&res.Events).Error; err != nil {
		return nil, storageError("list events", err)
	}
	return res, nil
}

// MarkActionTaken records what was done about the event with id.
func (s *AttackEventService) MarkActionTaken(ctx context.Context, id uint, action string) error {
	return markActionTaken(s.db.WithContext(ctx), &id, action)
}

func markActionTaken(tx *gorm.DB, id *uint, action string) error {
	if id == nil {
		return nil
	}
	res := tx.Model(&models.AttackEvent{}).Where("id = ?", *id).Update("action_taken", action)
	if res.Error != nil {
		return storageError("mark action taken", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}
