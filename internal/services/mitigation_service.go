package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/util"
)

// Values written to AttackEvent.ActionTaken.
const (
	ActionTakenIPBlockedAuto     = "ip_blocked_auto_24h"
	ActionTakenAccountLockedAuto = "account_locked_auto_2h"
	ActionTakenAdminAlerted      = "admin_alerted"
	ActionTakenRateLimited       = "rate_limited_30min"
	ActionTakenIPBlockedManual   = "ip_blocked_manual"
	ActionTakenLockedManual      = "account_locked_manual"
)

// MitigationPolicy holds the durations used by automated mitigations.
type MitigationPolicy struct {
	AutoBlock      time.Duration
	RateLimitBlock time.Duration
	AutoLock       time.Duration
}

// DefaultMitigationPolicy blocks for 24h, rate limits for 30m and locks for 2h.
func DefaultMitigationPolicy() MitigationPolicy {
	return MitigationPolicy{
		AutoBlock:      24 * time.Hour,
		RateLimitBlock: 30 * time.Minute,
		AutoLock:       2 * time.Hour,
	}
}

// DenialReason says why the gate rejected a request.
type DenialReason string

const (
	DenialIPBlocked     DenialReason = "ip_blocked"
	DenialAccountLocked DenialReason = "account_locked"
)

// Denial is the structured reason a request must not proceed.
type Denial struct {
	Reason  DenialReason `json:"reason"`
	Message string       `json:"message"`
	Until   *time.Time   `json:"until,omitempty"`
}

// ManualBlock is an operator's block request. A zero Duration blocks permanently;
// AutoUnblock only applies to blocks with a Duration.
type ManualBlock struct {
	IP          string
	Reason      string
	Duration    time.Duration
	AutoUnblock bool
	OperatorID  *uint
	EventID     *uint
}

// ManualLock is an operator's lock request. A zero Duration locks indefinitely.
type ManualLock struct {
	UserID     uint
	Reason     string
	Duration   time.Duration
	OperatorID *uint
	EventID    *uint
}

// MitigationService owns blocks, locks and the security action audit trail.
type MitigationService struct {
	db      *gorm.DB
	alerter Alerter
	policy  MitigationPolicy
	now     func() time.Time
}

// NewMitigationService returns a MitigationService. A nil alerter only logs alerts.
func NewMitigationService(db *gorm.DB, alerter Alerter, policy MitigationPolicy) *MitigationService {
	if alerter == nil {
		alerter = NewShoutrrrAlerter(nil)
	}
	def := DefaultMitigationPolicy()
	if policy.AutoBlock <= 0 {
		policy.AutoBlock = def.AutoBlock
	}
	if policy.RateLimitBlock <= 0 {
		policy.RateLimitBlock = def.RateLimitBlock
	}
	if policy.AutoLock <= 0 {
		policy.AutoLock = def.AutoLock
	}
	return &MitigationService{
		db:      db,
		alerter: alerter,
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the effective durations.
func (s *MitigationService) Policy() MitigationPolicy {
	return s.policy
}

type blockSpec struct {
	ip          string
	reason      string
	until       *time.Time
	autoUnblock bool
	blockedBy   *uint
	eventID     *uint
	automated   bool
	actionTaken string
}

func activeBlock(tx *gorm.DB, ip string) (*models.BlockRecord, error) {
	var b models.BlockRecord
	if err := tx.Where("ip_address = ? AND is_active = ?", ip, true).First(&b).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, storageError("find active block", err)
	}
	return &b, nil
}

func newAction(t models.SecurityActionType, target, reason string, by, eventID *uint, automated bool, at time.Time) *models.SecurityAction {
	return &models.SecurityAction{
		UUID:            uuid.NewString(),
		ActionType:      t,
		Target:          target,
		Reason:          reason,
		ExecutedAt:      at,
		ExecutedBy:      by,
		CausedByEventID: eventID,
		Automated:       automated,
	}
}

// createBlock inserts the block, its audit action and the event mark in one transaction.
// The active-IP unique index turns a concurrent duplicate into ErrAlreadyBlocked.
func (s *MitigationService) createBlock(ctx context.Context, spec blockSpec) (*models.SecurityAction, error) {
	var action *models.SecurityAction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := activeBlock(tx, spec.ip)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyBlocked
		}

		now := s.now()
		action = newAction(models.SecurityActionBlockIP, spec.ip, spec.reason, spec.blockedBy, spec.eventID, spec.automated, now)
		if err := tx.Create(action).Error; err != nil {
			return storageError("create security action", err)
		}
		block := &models.BlockRecord{
			IPAddress:        spec.ip,
			Reason:           spec.reason,
			BlockedAt:        now,
			BlockedUntil:     spec.until,
			AutoUnblock:      spec.autoUnblock,
			BlockedBy:        spec.blockedBy,
			CausedByEventID:  spec.eventID,
			SecurityActionID: &action.ID,
			IsActive:         true,
		}
		if err := tx.Create(block).Error; err != nil {
			if isDuplicate(err) {
				return ErrAlreadyBlocked
			}
			return storageError("create block", err)
		}
		if spec.actionTaken != "" {
			return markActionTaken(tx, spec.eventID, spec.actionTaken)
		}
		return nil
	})
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrAlreadyBlocked
		}
		return nil, err
	}

	metrics.IncMitigation(string(models.SecurityActionBlockIP))
	logger.WithFields(logrus.Fields{
		"ip":        util.SanitizeForLog(spec.ip),
		"action":    models.SecurityActionBlockIP,
		"automated": spec.automated,
		"until":     spec.until,
	}).Warn("ip blocked")
	return action, nil
}

// BlockIPAuto blocks ip for the automated block duration. It is a no-op returning a nil
// action when the IP is already blocked.
func (s *MitigationService) BlockIPAuto(ctx context.Context, ip, reason string, eventID *uint) (*models.SecurityAction, error) {
	until := s.now().Add(s.policy.AutoBlock)
	action, err := s.createBlock(ctx, blockSpec{
		ip:          ip,
		reason:      reason,
		until:       &until,
		autoUnblock: true,
		eventID:     eventID,
		automated:   true,
		actionTaken: ActionTakenIPBlockedAuto,
	})
	if errors.Is(err, ErrAlreadyBlocked) {
		return nil, nil
	}
	return action, err
}

// RateLimitIP blocks ip for the rate limit duration unless it is already blocked. The
// event is marked either way.
func (s *MitigationService) RateLimitIP(ctx context.Context, ip, reason string, eventID *uint) (*models.SecurityAction, error) {
	until := s.now().Add(s.policy.RateLimitBlock)
	action, err := s.createBlock(ctx, blockSpec{
		ip:          ip,
		reason:      reason,
		until:       &until,
		autoUnblock: true,
		eventID:     eventID,
		automated:   true,
		actionTaken: ActionTakenRateLimited,
	})
	if errors.Is(err, ErrAlreadyBlocked) {
		return nil, markActionTaken(s.db.WithContext(ctx), eventID, ActionTakenRateLimited)
	}
	return action, err
}

// BlockIP is the operator block command.
func (s *MitigationService) BlockIP(ctx context.Context, req ManualBlock) (*models.SecurityAction, error) {
	ip, err := normalizeIP(req.IP)
	if err != nil {
		return nil, err
	}
	if req.Duration < 0 {
		return nil, ErrInvalidDuration
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "Manual block"
	}

	spec := blockSpec{
		ip:        ip,
		reason:    reason,
		blockedBy: req.OperatorID,
		eventID:   req.EventID,
	}
	if req.Duration > 0 {
		until := s.now().Add(req.Duration)
		spec.until = &until
		spec.autoUnblock = req.AutoUnblock
	}
	if req.EventID != nil {
		spec.actionTaken = ActionTakenIPBlockedManual
	}
	return s.createBlock(ctx, spec)
}

// UnblockIP deactivates the active block for ip and records an unblock action.
func (s *MitigationService) UnblockIP(ctx context.Context, ip string, operatorID *uint) (*models.SecurityAction, error) {
	ip, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}

	var action *models.SecurityAction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&models.BlockRecord{}).
			Where("ip_address = ? AND is_active = ?", ip, true).
			Updates(map[string]any{"is_active": false, "deactivated_at": now})
		if res.Error != nil {
			return storageError("deactivate block", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrBlockNotFound
		}
		action = newAction(models.SecurityActionUnblockIP, ip, "Manual unblock", operatorID, nil, false, now)
		if err := tx.Create(action).Error; err != nil {
			return storageError("create security action", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncMitigation(string(models.SecurityActionUnblockIP))
	logger.WithFields(logrus.Fields{"ip": ip, "action": models.SecurityActionUnblockIP}).Info("ip unblocked")
	return action, nil
}

type lockSpec struct {
	userID      uint
	reason      string
	until       *time.Time
	lockedBy    *uint
	eventID     *uint
	automated   bool
	actionTaken string
}

func userTarget(id uint) string {
	return fmt.Sprintf("user:%d", id)
}

// createLock replaces any lapsed lock for the user. A lock still in force is a conflict.
func (s *MitigationService) createLock(ctx context.Context, spec lockSpec) (*models.SecurityAction, error) {
	var action *models.SecurityAction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getUser(tx, spec.userID); err != nil {
			return err
		}

		now := s.now()
		var current models.LockRecord
		err := tx.Where("user_id = ?", spec.userID).First(&current).Error
		switch {
		case err == nil:
			if current.ActiveAt(now) {
				return ErrAlreadyLocked
			}
			if err := tx.Delete(&current).Error; err != nil {
				return storageError("remove lapsed lock", err)
			}
		case !isNotFound(err):
			return storageError("find lock", err)
		}

		action = newAction(models.SecurityActionLockAccount, userTarget(spec.userID), spec.reason, spec.lockedBy, spec.eventID, spec.automated, now)
		if err := tx.Create(action).Error; err != nil {
			return storageError("create security action", err)
		}
		lock := &models.LockRecord{
			UserID:           spec.userID,
			Reason:           spec.reason,
			LockedAt:         now,
			LockedUntil:      spec.until,
			LockedBy:         spec.lockedBy,
			CausedByActionID: &action.ID,
		}
		if err := tx.Create(lock).Error; err != nil {
			if isDuplicate(err) {
				return ErrAlreadyLocked
			}
			return storageError("create lock", err)
		}
		if spec.actionTaken != "" {
			return markActionTaken(tx, spec.eventID, spec.actionTaken)
		}
		return nil
	})
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrAlreadyLocked
		}
		return nil, err
	}

	metrics.IncMitigation(string(models.SecurityActionLockAccount))
	logger.WithFields(logrus.Fields{
		"user_id":   spec.userID,
		"action":    models.SecurityActionLockAccount,
		"automated": spec.automated,
		"until":     spec.until,
	}).Warn("account locked")
	return action, nil
}

// LockAccountAuto locks the account for the automated lock duration. It is a no-op returning
// a nil action when the account is already locked.
func (s *MitigationService) LockAccountAuto(ctx context.Context, userID uint, reason string, eventID *uint) (*models.SecurityAction, error) {
	if userID == 0 {
		return nil, ErrUserRequired
	}
	until := s.now().Add(s.policy.AutoLock)
	action, err := s.createLock(ctx, lockSpec{
		userID:      userID,
		reason:      reason,
		until:       &until,
		eventID:     eventID,
		automated:   true,
		actionTaken: ActionTakenAccountLockedAuto,
	})
	if errors.Is(err, ErrAlreadyLocked) {
		return nil, nil
	}
	return action, err
}

// LockAccount is the operator lock command.
func (s *MitigationService) LockAccount(ctx context.Context, req ManualLock) (*models.SecurityAction, error) {
	if req.UserID == 0 {
		return nil, ErrUserRequired
	}
	if req.Duration < 0 {
		return nil, ErrInvalidDuration
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "Manual lock"
	}
	spec := lockSpec{userID: req.UserID, reason: reason, lockedBy: req.OperatorID, eventID: req.EventID}
	if req.Duration > 0 {
		until := s.now().Add(req.Duration)
		spec.until = &until
	}
	if req.EventID != nil {
		spec.actionTaken = ActionTakenLockedManual
	}
	return s.createLock(ctx, spec)
}

// UnlockAccount deletes the lock for userID and records an unlock action.
func (s *MitigationService) UnlockAccount(ctx context.Context, userID uint, operatorID *uint) (*models.SecurityAction, error) {
	if userID == 0 {
		return nil, ErrUserRequired
	}
	var action *models.SecurityAction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		var current models.LockRecord
		if err := tx.Where("user_id = ?", userID).First(&current).Error; err != nil {
			return notFoundOr(err, ErrLockNotFound, "find lock")
		}
		if !current.ActiveAt(now) {
			return ErrLockNotFound
		}
		if err := tx.Delete(&current).Error; err != nil {
			return storageError("delete lock", err)
		}
		action = newAction(models.SecurityActionUnlockAccount, userTarget(userID), "Manual unlock", operatorID, nil, false, now)
		if err := tx.Create(action).Error; err != nil {
			return storageError("create security action", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncMitigation(string(models.SecurityActionUnlockAccount))
	logger.WithFields(logrus.Fields{"user_id": userID, "action": models.SecurityActionUnlockAccount}).Info("account unlocked")
	return action, nil
}

// AlertAdmin records an alert action, marks the event and hands the alert to the alerter
// in the background.
func (s *MitigationService) AlertAdmin(ctx context.Context, target, reason string, eventID *uint) (*models.SecurityAction, error) {
	var action *models.SecurityAction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		action = newAction(models.SecurityActionAlertAdmin, target, reason, nil, eventID, true, s.now())
		if err := tx.Create(action).Error; err != nil {
			return storageError("create security action", err)
		}
		return markActionTaken(tx, eventID, ActionTakenAdminAlerted)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncMitigation(string(models.SecurityActionAlertAdmin))
	go func(title, message string) {
		if err := s.alerter.Send(context.Background(), title, message); err != nil {
			logger.Log().WithError(err).WithField("action_uuid", action.UUID).Error("admin alert delivery failed")
		}
	}("Security alert: "+util.SanitizeForLog(target), util.SanitizeForLog(reason))
	return action, nil
}

// ReverseAction undoes the mitigation behind a security action and marks it reversed,
// atomically. Reversing twice fails with ErrAlreadyReversed.
func (s *MitigationService) ReverseAction(ctx context.Context, actionID uint, operatorID *uint) (*models.SecurityAction, error) {
	var action models.SecurityAction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&action, actionID).Error; err != nil {
			return notFoundOr(err, ErrActionNotFound, "get security action")
		}
		if action.Reversed() {
			return ErrAlreadyReversed
		}

		now := s.now()
		switch action.ActionType {
		case models.SecurityActionBlockIP:
			if err := tx.Model(&models.BlockRecord{}).
				Where("security_action_id = ? AND is_active = ?", action.ID, true).
				Updates(map[string]any{"is_active": false, "deactivated_at": now}).Error; err != nil {
				return storageError("deactivate block", err)
			}
		case models.SecurityActionLockAccount:
			if err := tx.Where("caused_by_action_id = ?", action.ID).Delete(&models.LockRecord{}).Error; err != nil {
				return storageError("delete lock", err)
			}
		case models.SecurityActionAlertAdmin:
			// nothing to undo
		default:
			return ErrNotReversible
		}

		res := tx.Model(&models.SecurityAction{}).
			Where("id = ? AND reversed_at IS NULL", action.ID).
			Updates(map[string]any{"reversed_at": now, "reversed_by": operatorID})
		if res.Error != nil {
			return storageError("mark action reversed", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReversed
		}
		action.ReversedAt = &now
		action.ReversedBy = operatorID
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"action_id": action.ID,
		"action":    action.ActionType,
		"target":    util.SanitizeForLog(action.Target),
	}).Info("security action reversed")
	return &action, nil
}

// ActiveBlock returns the active block for ip, or nil.
func (s *MitigationService) ActiveBlock(ctx context.Context, ip string) (*models.BlockRecord, error) {
	return activeBlock(s.db.WithContext(ctx), strings.TrimSpace(ip))
}

// ActiveLock returns the lock in force for userID, or nil.
func (s *MitigationService) ActiveLock(ctx context.Context, userID uint) (*models.LockRecord, error) {
	var l models.LockRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&l).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, storageError("find lock", err)
	}
	if !l.ActiveAt(s.now()) {
		return nil, nil
	}
	return &l, nil
}

// CheckAccess returns a Denial when ip is blocked or the actor's account is locked.
func (s *MitigationService) CheckAccess(ctx context.Context, ip string, actorID *uint) (*Denial, error) {
	if ip != "" {
		b, err := s.ActiveBlock(ctx, ip)
		if err != nil {
			return nil, err
		}
		if b != nil {
			msg := "Your IP address has been blocked"
			if b.BlockedUntil != nil {
				msg = fmt.Sprintf("Your IP address has been blocked until %s", b.BlockedUntil.Format(time.RFC3339))
			}
			return &Denial{Reason: DenialIPBlocked, Message: msg, Until: b.BlockedUntil}, nil
		}
	}
	if actorID != nil {
		l, err := s.ActiveLock(ctx, *actorID)
		if err != nil {
			return nil, err
		}
		if l != nil {
			msg := "Your account has been locked"
			if l.LockedUntil != nil {
				msg = fmt.Sprintf("Your account has been locked until %s", l.LockedUntil.Format(time.RFC3339))
			}
			return &Denial{Reason: DenialAccountLocked, Message: msg, Until: l.LockedUntil}, nil
		}
	}
	return nil, nil
}

// ListActiveBlocks returns active blocks, newest first.
func (s *MitigationService) ListActiveBlocks(ctx context.Context) ([]models.BlockRecord, error) {
	var res []models.BlockRecord
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("blocked_at desc, id desc").Find(&res).Error; err != nil {
		return nil, storageError("list active blocks", err)
	}
	return res, nil
}

// BlockHistory returns every block ever recorded for ip, newest first.
func (s *MitigationService) BlockHistory(ctx context.Context, ip string) ([]models.BlockRecord, error) {
	var res []models.BlockRecord
	if err := s.db.WithContext(ctx).Where("ip_address = ?", strings.TrimSpace(ip)).Order("blocked_at desc, id desc").Find(&res).Error; err != nil {
		return nil, storageError("block history", err)
	}
	return res, nil
}

// ListLocks returns the locks still in force, newest first.
func (s *MitigationService) ListLocks(ctx context.Context) ([]models.LockRecord, error) {
	var res []models.LockRecord
	err := s.db.WithContext(ctx).
		Where("locked_until IS NULL OR locked_until > ?", s.now()).
		Order("locked_at desc, id desc").
		Find(&res).Error
	if err != nil {
		return nil, storageError("list locks", err)
	}
	return res, nil
}

// ListActions returns the newest security actions.
func (s *MitigationService) ListActions(ctx context.Context, limit int) ([]models.SecurityAction, error) {
	var res []models.SecurityAction
	err := s.db.WithContext(ctx).
		Order("executed_at desc, id desc").
		Limit(limitOrDefault(limit)).
		Find(&res).Error
	if err != nil {
		return nil, storageError("list security actions", err)
	}
	return res, nil
}

// GetAction returns the security action with id.
func (s *MitigationService) GetAction(ctx context.Context, id uint) (*models.SecurityAction, error) {
	var a models.SecurityAction
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFoundOr(err, ErrActionNotFound, "get security action")
	}
	return &a, nil
}

// ExpireBlocks deactivates auto-unblock blocks whose time is up. Permanent and manual
// blocks are never touched.
func (s *MitigationService) ExpireBlocks(ctx context.Context) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.BlockRecord{}).
		Where("is_active = ? AND auto_unblock = ? AND blocked_until IS NOT NULL AND blocked_until <= ?", true, true, now).
		Updates(map[string]any{"is_active": false, "deactivated_at": now})
	if res.Error != nil {
		return 0, storageError("expire blocks", res.Error)
	}
	return res.RowsAffected, nil
}

// ExpireLocks deletes locks whose time is up.
func (s *MitigationService) ExpireLocks(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("locked_until IS NOT NULL AND locked_until <= ?", s.now()).
		Delete(&models.LockRecord{})
	if res.Error != nil {
		return 0, storageError("expire locks", res.Error)
	}
	return res.RowsAffected, nil
}

func normalizeIP(raw string) (string, error) {
	ip := strings.TrimSpace(raw)
	if ip == "" {
		return "", ErrIPRequired
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", ErrInvalidIP
	}
	return parsed.String(), nil
}
