package facilitator

import (
	"github.com/tollgate-ai/tollgate/internal/facilitator/service"
	"go.uber.org/fx"
)

var Module = fx.Module("facilitator.client",
	fx.Provide(service.BuildBackends),
	fx.Provide(service.New),
)
