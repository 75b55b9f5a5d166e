package models

import (
	"time"
)

// Roles known to the detection layer.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// User is the directory entry the engine resolves actors against. Credentials live
// with the external auth layer and are not stored here.
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Username  string    `json:"username" gorm:"uniqueIndex;not null"`
	Email     string    `json:"email"`
	Role      string    `json:"role" gorm:"default:'operator'"` // "admin", "operator"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
