// Package service resolves request-path identifiers to billable
// applications, auto-provisioning public GitHub repositories on first use.
package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"github.com/tollgate-ai/tollgate/internal/cache"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
	"github.com/tollgate-ai/tollgate/internal/config"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	"github.com/tollgate-ai/tollgate/internal/observability/metrics"
	"github.com/tollgate-ai/tollgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    identitydomain.Repository
	AppRepo appdomain.Repository
	Policy  *config.PolicyHolder
	Cache   cache.SlugResolverCache
	GitHub  identitydomain.GitHubClient
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    identitydomain.Repository
	appRepo appdomain.Repository
	policy  *config.PolicyHolder
	cache   cache.SlugResolverCache
	github  identitydomain.GitHubClient
	metrics *metrics.Metrics
}

func New(p Params) identitydomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("identity.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		appRepo: p.AppRepo,
		policy:  p.Policy,
		cache:   p.Cache,
		github:  p.GitHub,
		metrics: p.Metrics,
	}
}

// Resolve turns an extracted identifier into an application id. Slug
// lookups walk cache, canonical mapping, legacy link, then the GitHub API;
// unmapped public repositories are provisioned on the spot.
func (s *Service) Resolve(ctx context.Context, ext identitydomain.Extraction) (*identitydomain.Resolution, error) {
	switch ext.Type {
	case identitydomain.IdentifierUUID:
		return s.resolveUUID(ctx, ext.UUID)
	case identitydomain.IdentifierRepoSlug:
		return s.resolveSlug(ctx, ext.Owner, ext.Repo)
	default:
		return nil, identitydomain.ErrNoIdentifier
	}
}

// Authorize denies access to any application other than the one the
// caller's credential was issued for, regardless of the path alias used.
func (s *Service) Authorize(caller callerctx.Caller, appID snowflake.ID) error {
	if caller.ApplicationID == 0 || caller.ApplicationID != appID {
		return identitydomain.ErrForbidden
	}
	return nil
}

func (s *Service) resolveUUID(ctx context.Context, externalID uuid.UUID) (*identitydomain.Resolution, error) {
	app, err := s.appRepo.FindByExternalID(ctx, s.db, externalID)
	if err != nil {
		return nil, err
	}
	if app == nil || app.Archived {
		return nil, identitydomain.ErrNotFound
	}
	s.recordResolution(ctx, "uuid", false)
	return &identitydomain.Resolution{ApplicationID: app.ID}, nil
}

func (s *Service) resolveSlug(ctx context.Context, owner, repoName string) (*identitydomain.Resolution, error) {
	if appID, ok := s.cache.Get(owner, repoName); ok {
		s.recordResolution(ctx, "cache", false)
		return &identitydomain.Resolution{ApplicationID: appID}, nil
	}

	mapping, err := s.repo.FindMapping(ctx, s.db, owner, repoName)
	if err != nil {
		return nil, err
	}
	if mapping != nil {
		s.cache.Set(owner, repoName, mapping.ApplicationID)
		s.recordResolution(ctx, "mapping", false)
		return &identitydomain.Resolution{ApplicationID: mapping.ApplicationID}, nil
	}

	link, err := s.repo.FindRepoLinkByURL(ctx, s.db, repoURL(owner, repoName))
	if err != nil {
		return nil, err
	}
	if link != nil {
		s.backfillMapping(ctx, owner, repoName, link.ApplicationID)
		s.cache.Set(owner, repoName, link.ApplicationID)
		s.recordResolution(ctx, "legacy_link", false)
		return &identitydomain.Resolution{ApplicationID: link.ApplicationID}, nil
	}

	repo, err := s.github.GetRepo(ctx, owner, repoName)
	if err != nil {
		return nil, err
	}
	if repo == nil || repo.Private {
		return nil, identitydomain.ErrRepoNotFound
	}

	resolution, err := s.provision(ctx, owner, repoName, repo)
	if err != nil {
		return nil, err
	}
	s.cache.Set(owner, repoName, resolution.ApplicationID)
	s.recordResolution(ctx, "github", resolution.Created)
	return resolution, nil
}

// backfillMapping migrates a legacy link hit into the canonical mapping
// table. Best effort: a failure here never fails the resolution.
func (s *Service) backfillMapping(ctx context.Context, owner, repoName string, appID snowflake.ID) {
	mapping := &identitydomain.RepoSlugMapping{
		ID:            s.genID.Generate(),
		Owner:         owner,
		Repo:          repoName,
		ApplicationID: appID,
		Canonical:     false,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.InsertMapping(ctx, s.db, mapping); err != nil && !db.IsDuplicateKeyErr(err) {
		s.log.Warn("slug mapping backfill failed",
			zap.String("owner", owner),
			zap.String("repo", repoName),
			zap.Error(err),
		)
	}
}

// provision creates the application, its legacy link, and its canonical
// mapping in one unit of work. A duplicate-key failure means a concurrent
// call won the race; the winner's mapping is re-read and used.
func (s *Service) provision(ctx context.Context, owner, repoName string, repo *identitydomain.GitHubRepo) (*identitydomain.Resolution, error) {
	now := time.Now().UTC()
	homepage := repo.HTMLURL
	app := &appdomain.Application{
		ID:              s.genID.Generate(),
		ExternalID:      uuid.New(),
		Name:            slug.Make(repo.FullName),
		HomepageURL:     &homepage,
		MarkupRate:      decimal.NewFromFloat(s.policy.Get().DefaultMarkupRate),
		AutoProvisioned: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.appRepo.Insert(ctx, tx, app); err != nil {
			return err
		}
		cfg := &appdomain.MarkupConfig{
			ID:            s.genID.Generate(),
			ApplicationID: app.ID,
			Rate:          app.MarkupRate,
			Active:        true,
			CreatedAt:     now,
		}
		if err := s.appRepo.InsertMarkupConfig(ctx, tx, cfg); err != nil {
			return err
		}
		link := &identitydomain.GithubRepoLink{
			ID:            s.genID.Generate(),
			URL:           repoURL(owner, repoName),
			ApplicationID: app.ID,
			CreatedAt:     now,
		}
		if err := s.repo.InsertRepoLink(ctx, tx, link); err != nil {
			return err
		}
		mapping := &identitydomain.RepoSlugMapping{
			ID:            s.genID.Generate(),
			Owner:         owner,
			Repo:          repoName,
			ApplicationID: app.ID,
			Canonical:     true,
			CreatedAt:     now,
		}
		return s.repo.InsertMapping(ctx, tx, mapping)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.readWinner(ctx, owner, repoName)
		}
		return nil, err
	}

	s.log.Info("auto-provisioned application",
		zap.String("owner", owner),
		zap.String("repo", repoName),
		zap.String("application_id", app.ID.String()),
	)
	return &identitydomain.Resolution{ApplicationID: app.ID, Created: true}, nil
}

func (s *Service) readWinner(ctx context.Context, owner, repoName string) (*identitydomain.Resolution, error) {
	mapping, err := s.repo.FindMapping(ctx, s.db, owner, repoName)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, identitydomain.ErrNotFound
	}
	return &identitydomain.Resolution{ApplicationID: mapping.ApplicationID}, nil
}

func (s *Service) recordResolution(ctx context.Context, source string, created bool) {
	s.metrics.RecordSlugResolution(ctx, source, created)
}

func repoURL(owner, repo string) string {
	return "https://github.com/" + owner + "/" + repo
}
