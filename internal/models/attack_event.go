package models

import (
	"time"
)

// AttackType identifies the kind of security signal an AttackEvent records.
type AttackType string

const (
	AttackSQLInjection        AttackType = "sql_injection"
	AttackFileUploadAbuse     AttackType = "file_upload_abuse"
	AttackSizeBypass          AttackType = "size_bypass"
	AttackMimeBypass          AttackType = "mime_bypass"
	AttackEncryptedPayload    AttackType = "encrypted_payload"
	AttackSuspiciousActivity  AttackType = "suspicious_activity"
	AttackLoginBruteForce     AttackType = "login_brute_force"
	AttackDirectoryBruteForce AttackType = "directory_brute_force"
	AttackSessionHijacking    AttackType = "session_hijacking"
	AttackCookieManipulation  AttackType = "cookie_manipulation"
	AttackRateLimitViolation  AttackType = "rate_limit_violation"
	AttackPrivilegeEscalation AttackType = "privilege_escalation"
	AttackPathTraversal       AttackType = "path_traversal"
	AttackCSRFAttempt         AttackType = "csrf_attempt"
	AttackXSSAttempt          AttackType = "xss_attempt"
	AttackUnauthorizedAccess  AttackType = "unauthorized_access"
)

// AttackTypes lists every known attack type.
var AttackTypes = []AttackType{
	AttackSQLInjection,
	AttackFileUploadAbuse,
	AttackSizeBypass,
	AttackMimeBypass,
	AttackEncryptedPayload,
	AttackSuspiciousActivity,
	AttackLoginBruteForce,
	AttackDirectoryBruteForce,
	AttackSessionHijacking,
	AttackCookieManipulation,
	AttackRateLimitViolation,
	AttackPrivilegeEscalation,
	AttackPathTraversal,
	AttackCSRFAttempt,
	AttackXSSAttempt,
	AttackUnauthorizedAccess,
}

// Valid reports whether t is a known attack type.
func (t AttackType) Valid() bool {
	for _, known := range AttackTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is the coarse impact level reported by the detector.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the four severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RecommendedAction is the operator-facing recommendation computed when an event is logged.
type RecommendedAction string

const (
	RecommendBlockIPTemporary RecommendedAction = "block_ip_temporary"
	RecommendBlockIPPermanent RecommendedAction = "block_ip_permanent"
	RecommendBlockIPAndAlert  RecommendedAction = "block_ip_and_alert"
	RecommendRateLimit        RecommendedAction = "rate_limit"
	RecommendAlertAdmin       RecommendedAction = "alert_admin"
	RecommendLogOnly          RecommendedAction = "log_only"
)

// AttackEvent is one detected or reported security occurrence. Rows are append-only;
// only ActionTaken is written after creation.
type AttackEvent struct {
	ID                 uint              `json:"id" gorm:"primaryKey"`
	AttackType         AttackType        `json:"attack_type" gorm:"index;not null"`
	Endpoint           string            `json:"endpoint" gorm:"not null"`
	ActorID            *uint             `json:"actor_id,omitempty" gorm:"index"`
	SourceIP           string            `json:"source_ip" gorm:"index"`
	UserAgent          string            `json:"user_agent"`
	Method             string            `json:"method"`
	Payload            string            `json:"payload" gorm:"type:text"`
	Severity           Severity          `json:"severity"`
	Blocked            bool              `json:"blocked"`
	Details            string            `json:"details" gorm:"type:text"`
	Classification     string            `json:"classification"`
	RecommendedAction  RecommendedAction `json:"recommended_action" gorm:"index"`
	ReverseActionSteps string            `json:"reverse_action_steps" gorm:"type:text"` // JSON array
	ActionTaken        *string           `json:"action_taken"`
	RiskScore          int               `json:"risk_score" gorm:"index"`
	RelatedEventID     *uint             `json:"related_event_id,omitempty" gorm:"index"`
	RawContext         string            `json:"raw_context" gorm:"type:text"` // JSON request snapshot
	ResponseStatus     *int              `json:"response_status,omitempty"`
	Timestamp          time.Time         `json:"timestamp" gorm:"index"`
}

// Actionable reports whether the event still awaits a response.
func (e *AttackEvent) Actionable() bool {
	return e.RecommendedAction != "" && e.RecommendedAction != RecommendLogOnly && e.ActionTaken == nil
}
