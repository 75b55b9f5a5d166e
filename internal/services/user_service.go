package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/models"
)

// UserService resolves accounts known to the external auth layer.
type UserService struct {
	db *gorm.DB
}

// NewUserService returns a UserService using the provided DB.
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Get returns the user with id.
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	return getUser(s.db.WithContext(ctx), id)
}

func getUser(tx *gorm.DB, id uint) (*models.User, error) {
	var u models.User
	if err := tx.First(&u, id).Error; err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "get user")
	}
	return &u, nil
}

// FindByUsername looks a user up by name. Names compare case-insensitively.
func (s *UserService) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("lower(username) = ?", strings.ToLower(strings.TrimSpace(username))).First(&u).Error
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "find user")
	}
	return &u, nil
}

// UsernameFor returns the username of the user with id.
func (s *UserService) UsernameFor(ctx context.Context, id uint) (string, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Ensure creates the user unless one with the same username exists, and returns the stored row.
func (s *UserService) Ensure(ctx context.Context, u *models.User) (*models.User, error) {
	if existing, err := s.FindByUsername(ctx, u.Username); err == nil {
		return existing, nil
	} else if !isNotFoundClass(err) {
		return nil, err
	}
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = models.RoleOperator
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, storageError("create user", err)
	}
	return u, nil
}
