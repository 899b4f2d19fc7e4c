package ledger

import (
	"github.com/tollgate-ai/tollgate/internal/ledger/repository"
	"github.com/tollgate-ai/tollgate/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
