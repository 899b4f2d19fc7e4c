// Package domain contains the slug-to-application mapping models used by
// the path resolver.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RepoSlugMapping maps an owner/repo slug to an application. Rows are
// created at most once per slug; the unique index makes concurrent
// first-time provisioning converge on a single winner.
type RepoSlugMapping struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Owner         string       `gorm:"size:64;not null;uniqueIndex:idx_repo_slug_owner_repo"`
	Repo          string       `gorm:"size:128;not null;uniqueIndex:idx_repo_slug_owner_repo"`
	ApplicationID snowflake.ID `gorm:"column:application_id;not null;index"`
	Canonical     bool         `gorm:"not null;default:true"`
	Archived      bool         `gorm:"not null;default:false"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RepoSlugMapping) TableName() string { return "repo_slug_mappings" }

// GithubRepoLink is the legacy URL-keyed link table. Hits here backfill a
// canonical RepoSlugMapping so the next lookup skips this table.
type GithubRepoLink struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	URL           string       `gorm:"size:512;not null;uniqueIndex"`
	ApplicationID snowflake.ID `gorm:"column:application_id;not null;index"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GithubRepoLink) TableName() string { return "github_repo_links" }
