package subscription

import (
	"github.com/forgeapps/metering/internal/subscription/repository"
	"github.com/forgeapps/metering/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
