package apikey

import (
	apikeydomain "github.com/tollgate-ai/tollgate/internal/apikey/domain"
	"github.com/tollgate-ai/tollgate/internal/apikey/repository"
	"github.com/tollgate-ai/tollgate/internal/apikey/service"
	"github.com/tollgate-ai/tollgate/internal/config"
	"go.uber.org/fx"
)

func provideHasher(cfg config.Config) *apikeydomain.Hasher {
	return apikeydomain.NewHasher(cfg.APIKeyHashSecret)
}

var Module = fx.Module("apikey.service",
	fx.Provide(provideHasher),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
