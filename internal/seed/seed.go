// Package seed installs the default plan catalog on first boot.
package seed

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	"gorm.io/gorm"
)

func int64Ptr(v int64) *int64 { return &v }

func defaultPlans() []plandomain.Plan {
	return []plandomain.Plan{
		{
			Name:            "free",
			MonthlyPrice:    0,
			YearlyPrice:     0,
			MonthlyCredits:  500,
			RolloverCredits: false,
			MaxProjects:     plandomain.BoundedLimit(1),
			MaxIntegrations: plandomain.BoundedLimit(1),
			MaxTeamMembers:  plandomain.BoundedLimit(1),
			MaxDeployments:  plandomain.BoundedLimit(1),
			APIRateLimit:    30,
			SortOrder:       0,
		},
		{
			Name:               "starter",
			MonthlyPrice:       1900,
			YearlyPrice:        19000,
			MonthlyCredits:     8000,
			RolloverCredits:    true,
			MaxRolloverCredits: int64Ptr(5000),
			MaxProjects:        plandomain.BoundedLimit(5),
			MaxIntegrations:    plandomain.BoundedLimit(10),
			MaxTeamMembers:     plandomain.BoundedLimit(3),
			MaxDeployments:     plandomain.BoundedLimit(10),
			APIRateLimit:       120,
			SortOrder:          1,
		},
		{
			Name:               "pro",
			MonthlyPrice:       4900,
			YearlyPrice:        49000,
			MonthlyCredits:     25000,
			RolloverCredits:    true,
			MaxRolloverCredits: int64Ptr(25000),
			MaxProjects:        plandomain.Unlimited,
			MaxIntegrations:    plandomain.Unlimited,
			MaxTeamMembers:     plandomain.BoundedLimit(10),
			MaxDeployments:     plandomain.Unlimited,
			APIRateLimit:       600,
			SortOrder:          2,
		},
	}
}

// EnsureDefaultPlans inserts the built-in catalog when the plans table is
// empty. Existing catalogs are left untouched so operator edits survive
// restarts.
func EnsureDefaultPlans(db *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := db.Model(&plandomain.Plan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	plans := defaultPlans()
	for i := range plans {
		plans[i].ID = node.Generate()
		plans[i].Currency = "usd"
		plans[i].Active = true
		plans[i].CreatedAt = now
		plans[i].UpdatedAt = now
	}
	return db.Create(&plans).Error
}
