package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Error classes. Handlers map these to HTTP statuses; specific errors wrap exactly one.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage failure")
)

var (
	ErrIPRequired       = fmt.Errorf("%w: ip address is required", ErrValidation)
	ErrInvalidIP        = fmt.Errorf("%w: invalid ip address", ErrValidation)
	ErrUserRequired     = fmt.Errorf("%w: user id is required", ErrValidation)
	ErrInvalidDuration  = fmt.Errorf("%w: duration must be positive", ErrValidation)
	ErrInvalidRule      = fmt.Errorf("%w: invalid response rule", ErrValidation)
	ErrInvalidThreshold = fmt.Errorf("%w: threshold must be positive", ErrValidation)
	ErrInvalidAttack    = fmt.Errorf("%w: unknown attack type", ErrValidation)
	ErrNotReversible    = fmt.Errorf("%w: action cannot be reversed", ErrValidation)

	ErrUserNotFound   = fmt.Errorf("%w: user", ErrNotFound)
	ErrEventNotFound  = fmt.Errorf("%w: attack event", ErrNotFound)
	ErrActionNotFound = fmt.Errorf("%w: security action", ErrNotFound)
	ErrRuleNotFound   = fmt.Errorf("%w: response rule", ErrNotFound)
	ErrBlockNotFound  = fmt.Errorf("%w: no active block for ip", ErrNotFound)
	ErrLockNotFound   = fmt.Errorf("%w: account is not locked", ErrNotFound)

	ErrAlreadyBlocked  = fmt.Errorf("%w: ip is already blocked", ErrConflict)
	ErrAlreadyLocked   = fmt.Errorf("%w: account is already locked", ErrConflict)
	ErrAlreadyReversed = fmt.Errorf("%w: action was already reversed", ErrConflict)
	ErrRuleExists      = fmt.Errorf("%w: rule name already exists", ErrConflict)

	ErrSecuritySettingNotFound = fmt.Errorf("%w: security setting", ErrNotFound)
	ErrBreakGlassInvalid       = fmt.Errorf("%w: break-glass token invalid", ErrValidation)
)

// storageError tags err as a storage failure while keeping the gorm error reachable.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// notFoundOr translates a missing record to notFound and anything else to a storage failure.
func notFoundOr(err error, notFound error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return storageError(op, err)
}

// isDuplicate reports a unique constraint violation.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isNotFoundClass(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
