package models

import (
	"time"
)

// SecuritySetting holds named, operator-managed secrets for the security engine.
// Only the break-glass hash is stored today.
type SecuritySetting struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	UUID           string    `json:"uuid" gorm:"uniqueIndex"`
	Name           string    `json:"name" gorm:"uniqueIndex"`
	BreakGlassHash string    `json:"-" gorm:"column:break_glass_hash"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
