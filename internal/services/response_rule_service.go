package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
)

// DefaultRules are seeded into an empty rule table.
func DefaultRules() []models.ResponseRule {
	return []models.ResponseRule{
		{Name: "Brute Force Protection", AttackType: models.AttackLoginBruteForce, TriggerCondition: models.TriggerFailedAttempts, ActionType: models.ActionBlockIP, Threshold: 5, TimeWindowMinutes: 10, Enabled: true},
		{Name: "SQL Injection Block", AttackType: models.AttackSQLInjection, TriggerCondition: models.TriggerAttackCount, ActionType: models.ActionBlockIP, Threshold: 3, TimeWindowMinutes: 60, Enabled: true},
		{Name: "Compromised Account Lock", AttackType: models.AttackLoginBruteForce, TriggerCondition: models.TriggerFailedLoginPerUser, ActionType: models.ActionLockAccount, Threshold: 5, TimeWindowMinutes: 15, Enabled: true},
		{Name: "Rate Limit Violators", AttackType: models.AttackRateLimitViolation, TriggerCondition: models.TriggerRequestsPerMinute, ActionType: models.ActionBlockIP, Threshold: 100, TimeWindowMinutes: 1, Enabled: true},
		{Name: "Privilege Escalation Block", AttackType: models.AttackPrivilegeEscalation, TriggerCondition: models.TriggerAttackCount, ActionType: models.ActionBlockIP, Threshold: 1, TimeWindowMinutes: 60, Enabled: true},
	}
}

// RuleService manages the automated response rules.
type RuleService struct {
	db *gorm.DB
}

// NewRuleService returns a RuleService using the provided DB.
func NewRuleService(db *gorm.DB) *RuleService {
	return &RuleService{db: db}
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r *models.ResponseRule) error {
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	case !r.AttackType.Valid():
		return fmt.Errorf("%w: unknown attack type %q", ErrInvalidRule, r.AttackType)
	case !r.TriggerCondition.Valid():
		return fmt.Errorf("%w: unknown trigger condition %q", ErrInvalidRule, r.TriggerCondition)
	case !r.ActionType.Valid():
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, r.ActionType)
	case r.Threshold <= 0:
		return fmt.Errorf("%w: threshold must be positive", ErrInvalidRule)
	case r.TimeWindowMinutes < 0:
		return fmt.Errorf("%w: time window cannot be negative", ErrInvalidRule)
	}
	return nil
}

// Create validates and stores a new rule.
func (s *RuleService) Create(ctx context.Context, r *models.ResponseRule) error {
	if err := ValidateRule(r); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if isDuplicate(err) {
			return ErrRuleExists
		}
		return storageError("create rule", err)
	}
	return nil
}

// ensure stores r unless a rule with its name exists; operator edits are never overwritten.
func (s *RuleService) ensure(ctx context.Context, r models.ResponseRule) (bool, error) {
	var existing models.ResponseRule
	err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(r.Name)).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !isNotFound(err) {
		return false, storageError("find rule", err)
	}
	if err := s.Create(ctx, &r); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SeedDefaults stores the built-in rules that are missing and returns how many were added.
func (s *RuleService) SeedDefaults(ctx context.Context) (int, error) {
	added := 0
	for _, r := range DefaultRules() {
		created, err := s.ensure(ctx, r)
		if err != nil {
			return added, err
		}
		if created {
			added++
		}
	}
	return added, nil
}

type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name              string                  `yaml:"name"`
	AttackType        models.AttackType       `yaml:"attack_type"`
	TriggerCondition  models.TriggerCondition `yaml:"trigger_condition"`
	ActionType        models.ActionType       `yaml:"action_type"`
	Threshold         int                     `yaml:"threshold"`
	TimeWindowMinutes int                     `yaml:"time_window_minutes"`
	Enabled           *bool                   `yaml:"enabled"`
}

// LoadFile seeds the rules listed in a YAML file. Rules default to enabled. Every entry is
// validated before any is stored.
func (s *RuleService) LoadFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read rules file: %w", err)
	}
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("%w: parse rules file: %w", ErrValidation, err)
	}

	rules := make([]models.ResponseRule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		r := models.ResponseRule{
			Name:              entry.Name,
			AttackType:        entry.AttackType,
			TriggerCondition:  entry.TriggerCondition,
			ActionType:        entry.ActionType,
			Threshold:         entry.Threshold,
			TimeWindowMinutes: entry.TimeWindowMinutes,
			Enabled:           entry.Enabled == nil || *entry.Enabled,
		}
		if err := ValidateRule(&r); err != nil {
			return 0, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, r)
	}

	added := 0
	for _, r := range rules {
		created, err := s.ensure(ctx, r)
		if err != nil {
			return added, err
		}
		if created {
			added++
		}
	}
	logger.Log().WithField("file", path).WithField("added", added).Info("response rules loaded")
	return added, nil
}

// List returns every rule by id.
func (s *RuleService) List(ctx context.Context) ([]models.ResponseRule, error) {
	var res []models.ResponseRule
	if err := s.db.WithContext(ctx).Order("id asc").Find(&res).Error; err != nil {
		return nil, storageError("list rules", err)
	}
	return res, nil
}

// Get returns the rule with id.
func (s *RuleService) Get(ctx context.Context, id uint) (*models.ResponseRule, error) {
	var r models.ResponseRule
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFoundOr(err, ErrRuleNotFound, "get rule")
	}
	return &r, nil
}

// EnabledFor returns the enabled rules for attack type t in id order.
func (s *RuleService) EnabledFor(ctx context.Context, t models.AttackType) ([]models.ResponseRule, error) {
	var res []models.ResponseRule
	err := s.db.WithContext(ctx).
		Where("attack_type = ? AND enabled = ?", t, true).
		Order("id asc").
		Find(&res).Error
	if err != nil {
		return nil, storageError("enabled rules", err)
	}
	return res, nil
}

// Toggle flips the enabled flag of the rule with id and returns the updated rule.
func (s *RuleService) Toggle(ctx context.Context, id uint) (*models.ResponseRule, error) {
	var out *models.ResponseRule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.ResponseRule
		if err := tx.First(&r, id).Error; err != nil {
			return notFoundOr(err, ErrRuleNotFound, "get rule")
		}
		enabled := !r.Enabled
		if err := tx.Model(&r).Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()}).Error; err != nil {
			return storageError("toggle rule", err)
		}
		r.Enabled = enabled
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateThreshold sets the threshold of the rule with id and returns the updated rule.
func (s *RuleService) UpdateThreshold(ctx context.Context, id uint, threshold int) (*models.ResponseRule, error) {
	if threshold <= 0 {
		return nil, ErrInvalidThreshold
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(r).Updates(map[string]any{"threshold": threshold, "updated_at": time.Now().UTC()}).Error; err != nil {
		return nil, storageError("update rule threshold", err)
	}
	r.Threshold = threshold
	return r, nil
}
