package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	"github.com/forgeapps/metering/internal/logger"
	"github.com/forgeapps/metering/internal/migration"
	"github.com/forgeapps/metering/internal/observability"
	"github.com/forgeapps/metering/internal/scheduler"
	"github.com/forgeapps/metering/internal/server"
	"github.com/forgeapps/metering/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
