package models

import (
	"time"
)

// TriggerCondition is the predicate a ResponseRule evaluates against recent history.
type TriggerCondition string

const (
	TriggerFailedAttempts     TriggerCondition = "failed_attempts"
	TriggerFailedLoginPerUser TriggerCondition = "failed_login_per_user"
	TriggerAttackCount        TriggerCondition = "attack_count"
	TriggerRequestsPerMinute  TriggerCondition = "requests_per_minute"
	TriggerRiskScore          TriggerCondition = "risk_score"
)

// Valid reports whether c is a known trigger condition.
func (c TriggerCondition) Valid() bool {
	switch c {
	case TriggerFailedAttempts, TriggerFailedLoginPerUser, TriggerAttackCount, TriggerRequestsPerMinute, TriggerRiskScore:
		return true
	}
	return false
}

// ActionType is the mitigation a triggered rule dispatches.
type ActionType string

const (
	ActionBlockIP     ActionType = "block_ip"
	ActionLockAccount ActionType = "lock_account"
	ActionAlertAdmin  ActionType = "alert_admin"
	ActionRateLimit   ActionType = "rate_limit"
)

// Valid reports whether a is a known rule action.
func (a ActionType) Valid() bool {
	switch a {
	case ActionBlockIP, ActionLockAccount, ActionAlertAdmin, ActionRateLimit:
		return true
	}
	return false
}

// ResponseRule configures an automated response to a given attack type.
type ResponseRule struct {
	ID                uint             `json:"id" gorm:"primaryKey"`
	Name              string           `json:"name" gorm:"uniqueIndex;not null"`
	AttackType        AttackType       `json:"attack_type" gorm:"index;not null"`
	TriggerCondition  TriggerCondition `json:"trigger_condition" gorm:"not null"`
	ActionType        ActionType       `json:"action_type" gorm:"not null"`
	Threshold         int              `json:"threshold"`
	TimeWindowMinutes int              `json:"time_window_minutes"`
	Enabled           bool             `json:"enabled"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Window returns the rule's lookback window.
func (r *ResponseRule) Window() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}
