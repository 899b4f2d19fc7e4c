package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	apprepository "github.com/tollgate-ai/tollgate/internal/app/repository"
	"github.com/tollgate-ai/tollgate/internal/cache"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
	"github.com/tollgate-ai/tollgate/internal/config"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	identityrepository "github.com/tollgate-ai/tollgate/internal/identity/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type githubStub struct {
	mu    sync.Mutex
	calls int
	repo  *identitydomain.GitHubRepo
	err   error
}

func (g *githubStub) GetRepo(ctx context.Context, owner, repo string) (*identitydomain.GitHubRepo, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return g.repo, nil
}

func (g *githubStub) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func publicRepo(owner, repo string) *identitydomain.GitHubRepo {
	r := &identitydomain.GitHubRepo{
		ID:       1296269,
		Name:     repo,
		FullName: owner + "/" + repo,
		HTMLURL:  "https://github.com/" + owner + "/" + repo,
	}
	r.Owner.Login = owner
	return r
}

func TestResolveSlugAutoProvisionsOnce(t *testing.T) {
	node := mustNode(t)
	github := &githubStub{repo: publicRepo("octocat", "Hello-World")}
	svc, db := setupResolver(t, node, github)
	ctx := context.Background()

	ext := svc.ExtractIdentifier("/octocat/Hello-World/v1/models")
	first, err := svc.Resolve(ctx, ext)
	if err != nil {
		t.Fatalf("resolve first: %v", err)
	}
	if !first.Created {
		t.Fatal("expected first resolution to provision")
	}

	second, err := svc.Resolve(ctx, ext)
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if second.Created {
		t.Fatal("expected second resolution to reuse the application")
	}
	if first.ApplicationID != second.ApplicationID {
		t.Fatalf("expected same application, got %s vs %s", first.ApplicationID, second.ApplicationID)
	}
	if github.Calls() != 1 {
		t.Fatalf("expected 1 github lookup, got %d", github.Calls())
	}

	var appCount int64
	if err := db.Model(&appdomain.Application{}).Count(&appCount).Error; err != nil {
		t.Fatalf("count applications: %v", err)
	}
	if appCount != 1 {
		t.Fatalf("expected exactly 1 application, got %d", appCount)
	}

	var app appdomain.Application
	if err := db.Take(&app).Error; err != nil {
		t.Fatalf("load application: %v", err)
	}
	if !app.AutoProvisioned {
		t.Fatal("expected application flagged auto-provisioned")
	}

	var mappingCount int64
	if err := db.Model(&identitydomain.RepoSlugMapping{}).Count(&mappingCount).Error; err != nil {
		t.Fatalf("count mappings: %v", err)
	}
	if mappingCount != 1 {
		t.Fatalf("expected exactly 1 slug mapping, got %d", mappingCount)
	}
}

func TestResolveSlugMappingHitSkipsGitHub(t *testing.T) {
	node := mustNode(t)
	github := &githubStub{repo: publicRepo("octocat", "Hello-World")}
	svc, db := setupResolver(t, node, github)
	ctx := context.Background()

	appID := node.Generate()
	mapping := &identitydomain.RepoSlugMapping{
		ID:            node.Generate(),
		Owner:         "octocat",
		Repo:          "Hello-World",
		ApplicationID: appID,
		Canonical:     true,
	}
	if err := db.Create(mapping).Error; err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	res, err := svc.Resolve(ctx, identitydomain.Extraction{
		Type:  identitydomain.IdentifierRepoSlug,
		Owner: "octocat",
		Repo:  "Hello-World",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ApplicationID != appID {
		t.Fatalf("expected mapped application %s, got %s", appID, res.ApplicationID)
	}
	if github.Calls() != 0 {
		t.Fatalf("expected no github lookup on mapping hit, got %d", github.Calls())
	}
}

func TestResolveSlugLegacyLinkBackfillsMapping(t *testing.T) {
	node := mustNode(t)
	github := &githubStub{repo: publicRepo("octocat", "Hello-World")}
	svc, db := setupResolver(t, node, github)
	ctx := context.Background()

	appID := node.Generate()
	link := &identitydomain.GithubRepoLink{
		ID:            node.Generate(),
		URL:           "https://github.com/octocat/Hello-World",
		ApplicationID: appID,
	}
	if err := db.Create(link).Error; err != nil {
		t.Fatalf("seed link: %v", err)
	}

	res, err := svc.Resolve(ctx, identitydomain.Extraction{
		Type:  identitydomain.IdentifierRepoSlug,
		Owner: "octocat",
		Repo:  "Hello-World",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ApplicationID != appID {
		t.Fatalf("expected linked application %s, got %s", appID, res.ApplicationID)
	}

	var mapping identitydomain.RepoSlugMapping
	if err := db.Where("owner = ? AND repo = ?", "octocat", "Hello-World").Take(&mapping).Error; err != nil {
		t.Fatalf("expected backfilled mapping: %v", err)
	}
	if mapping.ApplicationID != appID {
		t.Fatalf("backfilled mapping points at %s, want %s", mapping.ApplicationID, appID)
	}
	if mapping.Canonical {
		t.Fatal("expected migrated mapping to be non-canonical")
	}
}

func TestResolvePrivateRepoFailsClosed(t *testing.T) {
	node := mustNode(t)
	private := publicRepo("octocat", "secret")
	private.Private = true
	github := &githubStub{repo: private}
	svc, db := setupResolver(t, node, github)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, identitydomain.Extraction{
		Type:  identitydomain.IdentifierRepoSlug,
		Owner: "octocat",
		Repo:  "secret",
	})
	if err != identitydomain.ErrRepoNotFound {
		t.Fatalf("expected ErrRepoNotFound, got %v", err)
	}

	var appCount int64
	if err := db.Model(&appdomain.Application{}).Count(&appCount).Error; err != nil {
		t.Fatalf("count applications: %v", err)
	}
	if appCount != 0 {
		t.Fatalf("expected no provisioning for private repo, got %d applications", appCount)
	}
}

func TestResolveMissingRepoFailsClosed(t *testing.T) {
	node := mustNode(t)
	github := &githubStub{err: identitydomain.ErrRepoNotFound}
	svc, _ := setupResolver(t, node, github)

	_, err := svc.Resolve(context.Background(), identitydomain.Extraction{
		Type:  identitydomain.IdentifierRepoSlug,
		Owner: "octocat",
		Repo:  "missing",
	})
	if err != identitydomain.ErrRepoNotFound {
		t.Fatalf("expected ErrRepoNotFound, got %v", err)
	}
}

func TestResolveUUID(t *testing.T) {
	node := mustNode(t)
	github := &githubStub{}
	svc, db := setupResolver(t, node, github)
	ctx := context.Background()

	externalID := uuid.New()
	app := &appdomain.Application{
		ID:         node.Generate(),
		ExternalID: externalID,
		Name:       "direct-app",
	}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	res, err := svc.Resolve(ctx, identitydomain.Extraction{
		Type: identitydomain.IdentifierUUID,
		UUID: externalID,
	})
	if err != nil {
		t.Fatalf("resolve uuid: %v", err)
	}
	if res.ApplicationID != app.ID {
		t.Fatalf("expected %s, got %s", app.ID, res.ApplicationID)
	}

	if _, err := svc.Resolve(ctx, identitydomain.Extraction{
		Type: identitydomain.IdentifierUUID,
		UUID: uuid.New(),
	}); err != identitydomain.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown uuid, got %v", err)
	}
}

func TestResolveUUIDArchivedApplication(t *testing.T) {
	node := mustNode(t)
	svc, db := setupResolver(t, node, &githubStub{})

	externalID := uuid.New()
	app := &appdomain.Application{
		ID:         node.Generate(),
		ExternalID: externalID,
		Name:       "archived-app",
		Archived:   true,
	}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	_, err := svc.Resolve(context.Background(), identitydomain.Extraction{
		Type: identitydomain.IdentifierUUID,
		UUID: externalID,
	})
	if err != identitydomain.ErrNotFound {
		t.Fatalf("expected ErrNotFound for archived application, got %v", err)
	}
}

func TestAuthorizeRejectsCredentialMismatch(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupResolver(t, node, &githubStub{})

	appID := node.Generate()
	caller := callerctx.Caller{
		UserID:        node.Generate(),
		ApplicationID: appID,
		CredentialID:  node.Generate(),
	}

	if err := svc.Authorize(caller, appID); err != nil {
		t.Fatalf("expected matching credential authorized, got %v", err)
	}
	if err := svc.Authorize(caller, node.Generate()); err != identitydomain.ErrForbidden {
		t.Fatalf("expected ErrForbidden on mismatch, got %v", err)
	}
}

func setupResolver(t *testing.T, node *snowflake.Node, github identitydomain.GitHubClient) (identitydomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = gdb.Exec("PRAGMA busy_timeout = 5000").Error

	if err := gdb.AutoMigrate(
		&appdomain.Application{},
		&appdomain.MarkupConfig{},
		&identitydomain.RepoSlugMapping{},
		&identitydomain.GithubRepoLink{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := New(Params{
		DB:      gdb,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    identityrepository.Provide(),
		AppRepo: apprepository.Provide(),
		Policy:  config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Cache:   cache.NewSlugResolverCache(),
		GitHub:  github,
	})

	return svc, gdb
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
