package app

import (
	"github.com/tollgate-ai/tollgate/internal/app/repository"
	"github.com/tollgate-ai/tollgate/internal/app/service"
	"go.uber.org/fx"
)

var Module = fx.Module("app.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
