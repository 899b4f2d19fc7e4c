package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey stores hashed API credentials bound to one (user, application) pair.
type APIKey struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	UserID        snowflake.ID `gorm:"column:user_id;not null;index"`
	ApplicationID snowflake.ID `gorm:"column:application_id;not null;index"`
	KeyID         string       `gorm:"column:key_id;type:text;not null;uniqueIndex"`
	Name          string       `gorm:"type:text;not null"`
	KeyHash       string       `gorm:"column:key_hash;type:text;not null;index"`
	Archived      bool         `gorm:"not null;default:false"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastUsedAt    *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt     *time.Time   `gorm:"column:expires_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }
