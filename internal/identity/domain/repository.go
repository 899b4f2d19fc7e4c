package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	InsertMapping(ctx context.Context, db *gorm.DB, mapping *RepoSlugMapping) error
	FindMapping(ctx context.Context, db *gorm.DB, owner, repo string) (*RepoSlugMapping, error)
	InsertRepoLink(ctx context.Context, db *gorm.DB, link *GithubRepoLink) error
	FindRepoLinkByURL(ctx context.Context, db *gorm.DB, url string) (*GithubRepoLink, error)
}
