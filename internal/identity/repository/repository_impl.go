package repository

import (
	"context"

	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() identitydomain.Repository {
	return &repo{}
}

func (r *repo) InsertMapping(ctx context.Context, db *gorm.DB, mapping *identitydomain.RepoSlugMapping) error {
	return db.WithContext(ctx).Create(mapping).Error
}

func (r *repo) FindMapping(ctx context.Context, db *gorm.DB, owner, repo string) (*identitydomain.RepoSlugMapping, error) {
	var mapping identitydomain.RepoSlugMapping
	err := db.WithContext(ctx).
		Where("owner = ? AND repo = ? AND archived = ?", owner, repo, false).
		Take(&mapping).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func (r *repo) InsertRepoLink(ctx context.Context, db *gorm.DB, link *identitydomain.GithubRepoLink) error {
	return db.WithContext(ctx).Create(link).Error
}

func (r *repo) FindRepoLinkByURL(ctx context.Context, db *gorm.DB, url string) (*identitydomain.GithubRepoLink, error) {
	var link identitydomain.GithubRepoLink
	err := db.WithContext(ctx).
		Where("url = ?", url).
		Take(&link).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}
