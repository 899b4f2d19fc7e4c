package identity

import (
	"github.com/tollgate-ai/tollgate/internal/cache"
	"github.com/tollgate-ai/tollgate/internal/identity/github"
	"github.com/tollgate-ai/tollgate/internal/identity/repository"
	"github.com/tollgate-ai/tollgate/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewSlugResolverCache),
	fx.Provide(github.New),
	fx.Provide(service.New),
)
