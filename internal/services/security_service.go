package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/models"
)

// DefaultSettingName is the settings row the gate consults.
const DefaultSettingName = "default"

// SecurityService manages operator secrets such as the break-glass token.
type SecurityService struct {
	db *gorm.DB
}

// NewSecurityService returns a SecurityService using the provided DB
func NewSecurityService(db *gorm.DB) *SecurityService {
	return &SecurityService{db: db}
}

// GenerateBreakGlassToken generates a token, stores its bcrypt hash, and returns the plaintext token.
// A new token replaces the previous one.
func (s *SecurityService) GenerateBreakGlassToken(ctx context.Context, name string) (string, error) {
	tokenBytes := make([]byte, 24)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	db := s.db.WithContext(ctx)
	var setting models.SecuritySetting
	if err := db.Where("name = ?", name).First(&setting).Error; err != nil {
		if !isNotFound(err) {
			return "", storageError("get security setting", err)
		}
		now := time.Now().UTC()
		setting = models.SecuritySetting{UUID: uuid.NewString(), Name: name, BreakGlassHash: string(hash), CreatedAt: now, UpdatedAt: now}
		if err := db.Create(&setting).Error; err != nil {
			return "", storageError("create security setting", err)
		}
		return token, nil
	}

	setting.BreakGlassHash = string(hash)
	setting.UpdatedAt = time.Now().UTC()
	if err := db.Save(&setting).Error; err != nil {
		return "", storageError("save security setting", err)
	}
	return token, nil
}

// VerifyBreakGlassToken validates a provided token against the stored hash
func (s *SecurityService) VerifyBreakGlassToken(ctx context.Context, name, token string) (bool, error) {
	if token == "" {
		return false, ErrBreakGlassInvalid
	}
	var setting models.SecuritySetting
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&setting).Error; err != nil {
		return false, notFoundOr(err, ErrSecuritySettingNotFound, "get security setting")
	}
	if setting.BreakGlassHash == "" {
		return false, ErrBreakGlassInvalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(setting.BreakGlassHash), []byte(token)); err != nil {
		return false, ErrBreakGlassInvalid
	}
	return true, nil
}

// RevokeBreakGlassToken clears the stored hash so no token verifies.
func (s *SecurityService) RevokeBreakGlassToken(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Model(&models.SecuritySetting{}).
		Where("name = ?", name).
		Updates(map[string]any{"break_glass_hash": "", "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return storageError("revoke break-glass token", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSecuritySettingNotFound
	}
	return nil
}
