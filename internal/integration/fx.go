package integration

import (
	"github.com/forgeapps/metering/internal/integration/connector"
	"github.com/forgeapps/metering/internal/integration/repository"
	"github.com/forgeapps/metering/internal/integration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("integration.service",
	fx.Provide(repository.Provide),
	fx.Provide(connector.NewRegistry),
	fx.Provide(service.NewService),
)
