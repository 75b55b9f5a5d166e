package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		err   error
		class error
	}{
		{ErrIPRequired, ErrValidation},
		{ErrInvalidIP, ErrValidation},
		{ErrNotReversible, ErrValidation},
		{ErrBreakGlassInvalid, ErrValidation},
		{ErrUserNotFound, ErrNotFound},
		{ErrActionNotFound, ErrNotFound},
		{ErrSecuritySettingNotFound, ErrNotFound},
		{ErrAlreadyBlocked, ErrConflict},
		{ErrAlreadyReversed, ErrConflict},
		{ErrRuleExists, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.class)
			for _, other := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrStorage} {
				if other != tt.class {
					assert.NotErrorIs(t, tt.err, other)
				}
			}
		})
	}
}

func TestStorageHelpers(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := storageError("create block", cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "create block")

	assert.Equal(t, ErrRuleNotFound, notFoundOr(gorm.ErrRecordNotFound, ErrRuleNotFound, "get rule"))
	assert.ErrorIs(t, notFoundOr(cause, ErrRuleNotFound, "get rule"), ErrStorage)

	assert.True(t, isDuplicate(fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, isDuplicate(errors.New("UNIQUE constraint failed: block_records.ip_address")))
	assert.False(t, isDuplicate(nil))
	assert.False(t, isDuplicate(cause))

	assert.True(t, isConflict(ErrAlreadyLocked))
	assert.True(t, isNotFoundClass(ErrLockNotFound))
}
