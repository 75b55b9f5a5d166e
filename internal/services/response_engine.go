package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
)

// requestsPerMinuteWindow is fixed regardless of the rule's own window.
const requestsPerMinuteWindow = time.Minute

// TriggeredRule is a rule that fired for an event and the action it produced. Action is
// nil when the mitigation was already in place.
type TriggeredRule struct {
	Rule   models.ResponseRule
	Action *models.SecurityAction
}

// ResponseEngine evaluates the enabled rules for each new event and dispatches their actions.
type ResponseEngine struct {
	rules      *RuleService
	events     *AttackEventService
	ledger     *FailedLoginLedger
	users      *UserService
	mitigation *MitigationService
	now        func() time.Time
}

// NewResponseEngine wires the engine to its stores.
func NewResponseEngine(rules *RuleService, events *AttackEventService, ledger *FailedLoginLedger, users *UserService, mitigation *MitigationService) *ResponseEngine {
	return &ResponseEngine{
		rules:      rules,
		events:     events,
		ledger:     ledger,
		users:      users,
		mitigation: mitigation,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs every enabled rule for the event's attack type in id order. A failing rule
// is logged and skipped; the joined failures are returned alongside the rules that fired.
func (e *ResponseEngine) Evaluate(ctx context.Context, event *models.AttackEvent) ([]TriggeredRule, error) {
	rules, err := e.rules.EnabledFor(ctx, event.AttackType)
	if err != nil {
		return nil, err
	}

	var (
		fired []TriggeredRule
		errs  []error
	)
	for _, rule := range rules {
		log := logger.WithFields(logrus.Fields{
			"rule":        rule.Name,
			"attack_type": event.AttackType,
			"event_id":    event.ID,
		})

		ok, err := e.ShouldTrigger(ctx, rule, event)
		if err != nil {
			log.WithError(err).Error("rule evaluation failed")
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
			continue
		}
		if !ok {
			continue
		}

		action, err := e.dispatch(ctx, rule, event)
		if err != nil {
			log.WithError(err).Error("rule action failed")
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
			continue
		}
		log.WithField("action", rule.ActionType).WithField("applied", action != nil).Info("response rule triggered")
		fired = append(fired, TriggeredRule{Rule: rule, Action: action})
	}
	return fired, errors.Join(errs...)
}

// ShouldTrigger evaluates the rule's trigger condition against persisted history.
func (e *ResponseEngine) ShouldTrigger(ctx context.Context, rule models.ResponseRule, event *models.AttackEvent) (bool, error) {
	threshold := int64(rule.Threshold)
	since := e.now().Add(-rule.Window())

	switch rule.TriggerCondition {
	case models.TriggerFailedAttempts:
		if event.SourceIP == "" {
			return false, nil
		}
		n, err := e.ledger.CountByIPSince(ctx, event.SourceIP, since)
		return n >= threshold, err

	case models.TriggerFailedLoginPerUser:
		if event.ActorID == nil {
			return false, nil
		}
		username, err := e.users.UsernameFor(ctx, *event.ActorID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return false, nil
			}
			return false, err
		}
		n, err := e.ledger.CountByUsernameSince(ctx, username, since)
		return n >= threshold, err

	case models.TriggerAttackCount:
		if event.SourceIP == "" {
			return false, nil
		}
		n, err := e.events.CountByTypeAndIPSince(ctx, event.AttackType, event.SourceIP, since)
		return n >= threshold, err

	case models.TriggerRequestsPerMinute:
		if event.SourceIP == "" {
			return false, nil
		}
		n, err := e.events.CountByIPSince(ctx, event.SourceIP, e.now().Add(-requestsPerMinuteWindow))
		return n >= threshold, err

	case models.TriggerRiskScore:
		return event.RiskScore >= rule.Threshold, nil
	}
	return false, fmt.Errorf("%w: unknown trigger condition %q", ErrInvalidRule, rule.TriggerCondition)
}

func (e *ResponseEngine) dispatch(ctx context.Context, rule models.ResponseRule, event *models.AttackEvent) (*models.SecurityAction, error) {
	eventID := &event.ID

	switch rule.ActionType {
	case models.ActionBlockIP:
		if event.SourceIP == "" {
			return nil, nil
		}
		reason := fmt.Sprintf("Auto-blocked: %s - Rule: %s", event.AttackType, rule.Name)
		return e.mitigation.BlockIPAuto(ctx, event.SourceIP, reason, eventID)

	case models.ActionLockAccount:
		if event.ActorID == nil {
			return nil, nil
		}
		reason := fmt.Sprintf("Auto-locked: %s - Rule: %s", event.AttackType, rule.Name)
		return e.mitigation.LockAccountAuto(ctx, *event.ActorID, reason, eventID)

	case models.ActionAlertAdmin:
		reason := fmt.Sprintf("Alert: %s - Rule: %s - IP: %s", event.AttackType, rule.Name, event.SourceIP)
		return e.mitigation.AlertAdmin(ctx, "ip:"+event.SourceIP, reason, eventID)

	case models.ActionRateLimit:
		if event.SourceIP == "" {
			return nil, nil
		}
		reason := fmt.Sprintf("Rate limited: %s - Rule: %s", event.AttackType, rule.Name)
		return e.mitigation.RateLimitIP(ctx, event.SourceIP, reason, eventID)
	}
	return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, rule.ActionType)
}
