package models

import (
	"time"
)

// BlockRecord is one IP block. Many historical rows may exist per IP but at most one
// is active; the database enforces that with a partial unique index.
type BlockRecord struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	IPAddress        string     `json:"ip_address" gorm:"not null;index"`
	Reason           string     `json:"reason" gorm:"type:text"`
	BlockedAt        time.Time  `json:"blocked_at"`
	BlockedUntil     *time.Time `json:"blocked_until"` // nil = permanent
	AutoUnblock      bool       `json:"auto_unblock"`
	BlockedBy        *uint      `json:"blocked_by"` // nil for automated blocks
	CausedByEventID  *uint      `json:"caused_by_event_id,omitempty"`
	SecurityActionID *uint      `json:"security_action_id,omitempty" gorm:"index"`
	IsActive         bool       `json:"is_active" gorm:"index"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
}

// Permanent reports whether the block has no expiry.
func (b *BlockRecord) Permanent() bool {
	return b.BlockedUntil == nil
}

// LockRecord is the single current lock for an account. A new lock replaces the old row.
type LockRecord struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	UserID           uint       `json:"user_id" gorm:"uniqueIndex;not null"`
	Reason           string     `json:"reason" gorm:"type:text"`
	LockedAt         time.Time  `json:"locked_at"`
	LockedUntil      *time.Time `json:"locked_until"` // nil = indefinite
	LockedBy         *uint      `json:"locked_by"`
	CausedByActionID *uint      `json:"caused_by_action_id,omitempty" gorm:"index"`
}

// ActiveAt reports whether the lock is still in force at t.
func (l *LockRecord) ActiveAt(t time.Time) bool {
	return l.LockedUntil == nil || l.LockedUntil.After(t)
}

// SecurityActionType names an entry in the security action audit trail.
type SecurityActionType string

const (
	SecurityActionBlockIP       SecurityActionType = "block_ip"
	SecurityActionUnblockIP     SecurityActionType = "unblock_ip"
	SecurityActionLockAccount   SecurityActionType = "lock_account"
	SecurityActionUnlockAccount SecurityActionType = "unlock_account"
	SecurityActionAlertAdmin    SecurityActionType = "alert_admin"
)

// SecurityAction is the append-only audit record of a mitigation or alert.
type SecurityAction struct {
	ID              uint               `json:"id" gorm:"primaryKey"`
	UUID            string             `json:"uuid" gorm:"uniqueIndex"`
	ActionType      SecurityActionType `json:"action_type" gorm:"index;not null"`
	Target          string             `json:"target" gorm:"not null"`
	Reason          string             `json:"reason" gorm:"type:text"`
	ExecutedAt      time.Time          `json:"executed_at" gorm:"index"`
	ExecutedBy      *uint              `json:"executed_by"`
	ReversedAt      *time.Time         `json:"reversed_at"`
	ReversedBy      *uint              `json:"reversed_by"`
	CausedByEventID *uint              `json:"caused_by_event_id,omitempty" gorm:"index"`
	Automated       bool               `json:"automated"`
}

// Reversed reports whether the action has already been undone.
func (a *SecurityAction) Reversed() bool {
	return a.ReversedAt != nil
}

// FailedLoginAttempt is a transient ledger row consulted by the failed-login trigger
// conditions. Rows older than the retention period are purged.
type FailedLoginAttempt struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Username      string    `json:"username" gorm:"index;not null"`
	IPAddress     string    `json:"ip_address" gorm:"index;not null"`
	UserAgent     string    `json:"user_agent"`
	AttemptTime   time.Time `json:"attempt_time" gorm:"index"`
	AttackEventID *uint     `json:"attack_event_id,omitempty"`
}
