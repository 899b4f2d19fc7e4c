package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tollgate-ai/tollgate/internal/clock"
	"github.com/tollgate-ai/tollgate/internal/config"
	"github.com/tollgate-ai/tollgate/internal/migration"
	"github.com/tollgate-ai/tollgate/internal/observability"
	"github.com/tollgate-ai/tollgate/internal/scheduler"
	"github.com/tollgate-ai/tollgate/internal/server"
	"github.com/tollgate-ai/tollgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
		scheduler.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
