package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/plan/domain"
	"github.com/forgeapps/metering/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (*domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidPlanName
	}
	if req.MonthlyCredits < 0 {
		return nil, domain.ErrInvalidCredits
	}
	if req.MonthlyPrice < 0 || req.YearlyPrice < 0 {
		return nil, domain.ErrInvalidPrice
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	apiRateLimit := req.APIRateLimit
	if apiRateLimit <= 0 {
		apiRateLimit = 60
	}

	now := time.Now().UTC()
	plan := &domain.Plan{
		ID:                 s.genID.Generate(),
		Name:               name,
		MonthlyPrice:       req.MonthlyPrice,
		YearlyPrice:        req.YearlyPrice,
		Currency:           currency,
		MonthlyCredits:     req.MonthlyCredits,
		RolloverCredits:    req.RolloverCredits,
		MaxRolloverCredits: req.MaxRolloverCredits,
		MaxProjects:        req.MaxProjects,
		MaxIntegrations:    req.MaxIntegrations,
		MaxTeamMembers:     req.MaxTeamMembers,
		MaxDeployments:     req.MaxDeployments,
		APIRateLimit:       apiRateLimit,
		Active:             true,
		SortOrder:          req.SortOrder,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Insert(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicatePlanName
		}
		return nil, err
	}
	return plan, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdatePlanRequest) (*domain.Plan, error) {
	plan, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidPlanName
		}
		plan.Name = name
	}
	if req.MonthlyPrice != nil {
		if *req.MonthlyPrice < 0 {
			return nil, domain.ErrInvalidPrice
		}
		plan.MonthlyPrice = *req.MonthlyPrice
	}
	if req.YearlyPrice != nil {
		if *req.YearlyPrice < 0 {
			return nil, domain.ErrInvalidPrice
		}
		plan.YearlyPrice = *req.YearlyPrice
	}
	if req.MonthlyCredits != nil {
		if *req.MonthlyCredits < 0 {
			return nil, domain.ErrInvalidCredits
		}
		plan.MonthlyCredits = *req.MonthlyCredits
	}
	if req.RolloverCredits != nil {
		plan.RolloverCredits = *req.RolloverCredits
	}
	if req.MaxRolloverCredits != nil {
		plan.MaxRolloverCredits = req.MaxRolloverCredits
	}
	if req.MaxIntegrations != nil {
		plan.MaxIntegrations = *req.MaxIntegrations
	}
	if req.APIRateLimit != nil && *req.APIRateLimit > 0 {
		plan.APIRateLimit = *req.APIRateLimit
	}
	if req.Active != nil {
		plan.Active = *req.Active
	}
	if req.SortOrder != nil {
		plan.SortOrder = *req.SortOrder
	}
	plan.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, s.db, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, domain.ErrPlanNotFound
	}
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListPlanFilter) ([]*domain.Plan, error) {
	return s.repo.List(ctx, s.db, filter)
}
