package services

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/models"
)

// FailedLoginLedger is the short-lived history of failed logins consulted by the
// failed_attempts and failed_login_per_user trigger conditions.
type FailedLoginLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewFailedLoginLedger returns a ledger using the provided DB.
func NewFailedLoginLedger(db *gorm.DB) *FailedLoginLedger {
	return &FailedLoginLedger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func recordFailedLogin(tx *gorm.DB, row *models.FailedLoginAttempt) error {
	row.Username = normalizeUsername(row.Username)
	if err := tx.Create(row).Error; err != nil {
		return storageError("record failed login", err)
	}
	return nil
}

// CountByIPSince counts failed logins from ip after since.
func (l *FailedLoginLedger) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.FailedLoginAttempt{}).
		Where("ip_address = ? AND attempt_time > ?", ip, since).
		Count(&n).Error
	if err != nil {
		return 0, storageError("count failed logins by ip", err)
	}
	return n, nil
}

// CountByUsernameSince counts failed logins for username after since.
func (l *FailedLoginLedger) CountByUsernameSince(ctx context.Context, username string, since time.Time) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.FailedLoginAttempt{}).
		Where("username = ? AND attempt_time > ?", normalizeUsername(username), since).
		Count(&n).Error
	if err != nil {
		return 0, storageError("count failed logins by username", err)
	}
	return n, nil
}

// lastEventFor returns the attack event recorded for the latest failed login of username.
func lastEventFor(tx *gorm.DB, username string) (*uint, error) {
	var row models.FailedLoginAttempt
	err := tx.Where("username = ? AND attack_event_id IS NOT NULL", normalizeUsername(username)).
		Order("attempt_time desc, id desc").
		First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, storageError("last failed login", err)
	}
	return row.AttackEventID, nil
}

// Purge deletes rows older than retention and returns how many went.
func (l *FailedLoginLedger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("attempt_time < ?", l.now().Add(-retention)).
		Delete(&models.FailedLoginAttempt{})
	if res.Error != nil {
		return 0, storageError("purge failed logins", res.Error)
	}
	return res.RowsAffected, nil
}
