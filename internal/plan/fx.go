package plan

import (
	"github.com/forgeapps/metering/internal/plan/repository"
	"github.com/forgeapps/metering/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
