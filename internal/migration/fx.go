package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	integrationdomain "github.com/forgeapps/metering/internal/integration/domain"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	paymentdomain "github.com/forgeapps/metering/internal/payment/domain"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	"github.com/forgeapps/metering/internal/seed"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	usagedomain "github.com/forgeapps/metering/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres targets (sqlite in tests and local runs) fall back
			// to the model definitions.
			if err := conn.AutoMigrate(
				&plandomain.Plan{},
				&subscriptiondomain.Subscription{},
				&ledgerdomain.CreditBalance{},
				&ledgerdomain.CreditTransaction{},
				&usagedomain.UsageRecord{},
				&integrationdomain.Integration{},
				&paymentdomain.Payment{},
			); err != nil {
				return err
			}
		}

		if cfg.SeedPlans {
			return seed.EnsureDefaultPlans(conn, node)
		}
		return nil
	}),
)
