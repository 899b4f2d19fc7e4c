package pricing

import (
	"github.com/tollgate-ai/tollgate/internal/pricing/repository"
	"github.com/tollgate-ai/tollgate/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
