package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (
			id, name, monthly_price, yearly_price, currency, monthly_credits,
			rollover_credits, max_rollover_credits, max_projects, max_integrations,
			max_team_members, max_deployments, api_rate_limit, active, sort_order,
			created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Name,
		plan.MonthlyPrice,
		plan.YearlyPrice,
		plan.Currency,
		plan.MonthlyCredits,
		plan.RolloverCredits,
		plan.MaxRolloverCredits,
		plan.MaxProjects,
		plan.MaxIntegrations,
		plan.MaxTeamMembers,
		plan.MaxDeployments,
		plan.APIRateLimit,
		plan.Active,
		plan.SortOrder,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	// Save writes every column so soft-deactivation (active=false) is not
	// dropped as a zero value.
	return db.WithContext(ctx).Save(plan).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPlanFilter) ([]*domain.Plan, error) {
	var plans []*domain.Plan
	stmt := db.WithContext(ctx).Model(&domain.Plan{})
	if !filter.IncludeInactive {
		stmt = stmt.Where("active = ?", true)
	}
	err := stmt.
		Order("sort_order asc, monthly_price asc").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
