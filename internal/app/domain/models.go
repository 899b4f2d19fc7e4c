// Package domain contains persistence models for billable applications.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Application is the billable unit a proxied call is attributed to.
// ExternalID is the public alias used in request paths; the snowflake ID
// stays internal.
type Application struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	ExternalID      uuid.UUID       `gorm:"column:external_id;type:uuid;not null;uniqueIndex"`
	OwnerID         snowflake.ID    `gorm:"column:owner_id;index"`
	Name            string          `gorm:"type:text;not null"`
	HomepageURL     *string         `gorm:"column:homepage_url;type:text"`
	MarkupRate      decimal.Decimal `gorm:"column:markup_rate;type:numeric(12,6);not null"`
	AutoProvisioned bool            `gorm:"column:auto_provisioned;not null;default:false"`
	Archived        bool            `gorm:"not null;default:false"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Application) TableName() string { return "applications" }

// MarkupConfig is the markup rate in effect for an application at a point
// in time. Debit grants link the config that priced them, so rate changes
// never rewrite history.
type MarkupConfig struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	ApplicationID snowflake.ID    `gorm:"column:application_id;not null;index"`
	Rate          decimal.Decimal `gorm:"type:numeric(12,6);not null"`
	Active        bool            `gorm:"not null;default:true"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MarkupConfig) TableName() string { return "markup_configs" }
