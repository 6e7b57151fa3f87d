package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	"github.com/forgeapps/metering/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	PlanSvc   plandomain.Service
	LedgerSvc ledgerdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	planSvc   plandomain.Service
	ledgerSvc ledgerdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		planSvc:   p.PlanSvc,
		ledgerSvc: p.LedgerSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if req.MemberID == 0 {
		return nil, domain.ErrInvalidMember
	}
	if !domain.ValidBillingPeriod(req.BillingPeriod) {
		return nil, domain.ErrInvalidBillingPeriod
	}
	if req.TrialDays != nil && *req.TrialDays < 0 {
		return nil, domain.ErrInvalidTrialDays
	}

	plan, err := s.planSvc.GetByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID:                     s.genID.Generate(),
		MemberID:               req.MemberID,
		PlanID:                 plan.ID,
		Status:                 domain.SubscriptionStatusActive,
		BillingPeriod:          req.BillingPeriod,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.Add(req.BillingPeriod.PeriodLength()),
		ExternalSubscriptionID: req.ExternalSubscriptionID,
		ExternalCustomerID:     req.ExternalCustomerID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if req.Metadata != nil {
		sub.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if req.TrialDays != nil && *req.TrialDays > 0 {
		trialEnd := now.Add(time.Duration(*req.TrialDays) * 24 * time.Hour)
		sub.Status = domain.SubscriptionStatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cancelled, err := s.repo.CancelActiveByMember(ctx, tx, req.MemberID, now)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			s.log.Info("cancelled prior active subscription",
				zap.String("member_id", req.MemberID.String()),
				zap.Int64("count", cancelled),
			)
		}
		return s.repo.Insert(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}

	// Initial allocation happens off the request path; a failed grant is
	// logged and retried by the next period renewal, the subscription itself
	// is already committed.
	go func() {
		allocCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.ledgerSvc.AllocateMonthly(allocCtx, sub.MemberID, plan, &sub.ID); err != nil {
			s.log.Error("initial credit allocation failed",
				zap.String("member_id", sub.MemberID.String()),
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}()

	return sub, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) GetActiveByMemberID(ctx context.Context, memberID snowflake.ID) (*domain.Subscription, error) {
	if memberID == 0 {
		return nil, domain.ErrInvalidMember
	}
	sub, err := s.repo.FindActiveByMember(ctx, s.db, memberID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	sub, err := s.repo.FindByExternalID(ctx, s.db, externalID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) GetByExternalCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	sub, err := s.repo.FindByExternalCustomerID(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id snowflake.ID, status domain.SubscriptionStatus, cancelAtPeriodEnd *bool) (*domain.Subscription, error) {
	if !domain.ValidStatus(status) {
		return nil, domain.ErrInvalidStatus
	}

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled && status != domain.SubscriptionStatusCancelled {
		// cancelled is terminal for a record; members resubscribe instead.
		return nil, domain.ErrSubscriptionCancelled
	}

	now := time.Now().UTC()
	sub.Status = status
	if status == domain.SubscriptionStatusCancelled && sub.CanceledAt == nil {
		sub.CanceledAt = &now
	}
	if cancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *cancelAtPeriodEnd
	}
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, immediate bool) (*domain.Subscription, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return sub, nil
	}

	now := time.Now().UTC()
	if immediate {
		sub.Status = domain.SubscriptionStatusCancelled
		sub.CanceledAt = &now
	} else {
		// Deferred: credits stay deductible until the period actually ends.
		sub.CancelAtPeriodEnd = true
	}
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) ApplyProviderUpdate(ctx context.Context, update domain.ProviderUpdate) (*domain.Subscription, error) {
	sub, err := s.repo.FindByExternalID(ctx, s.db, update.ExternalSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	now := time.Now().UTC()
	if domain.ValidStatus(update.Status) && sub.Status != domain.SubscriptionStatusCancelled {
		sub.Status = update.Status
	}
	if update.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = update.CurrentPeriodStart.UTC()
	}
	if update.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = update.CurrentPeriodEnd.UTC()
	}
	if update.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *update.CancelAtPeriodEnd
	}
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) CancelByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	sub, err := s.repo.FindByExternalID(ctx, s.db, externalID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return sub, nil
	}

	now := time.Now().UTC()
	sub.Status = domain.SubscriptionStatusCancelled
	sub.CanceledAt = &now
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// RenewPeriod advances a subscription into its next billing period and
// applies the monthly allocation. Subscriptions flagged cancel-at-period-end
// are cancelled instead of renewed.
func (s *Service) RenewPeriod(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return nil, domain.ErrSubscriptionCancelled
	}

	now := time.Now().UTC()
	if sub.CancelAtPeriodEnd {
		sub.Status = domain.SubscriptionStatusCancelled
		sub.CanceledAt = &now
		sub.UpdatedAt = now
		if err := s.repo.Save(ctx, s.db, sub); err != nil {
			return nil, err
		}
		return sub, nil
	}

	plan, err := s.planSvc.GetByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.Add(sub.BillingPeriod.PeriodLength())
	if sub.Status == domain.SubscriptionStatusTrialing {
		sub.Status = domain.SubscriptionStatusActive
	}
	sub.UpdatedAt = now

	if err := s.repo.Save(ctx, s.db, sub); err != nil {
		return nil, err
	}

	if _, err := s.ledgerSvc.AllocateMonthly(ctx, sub.MemberID, plan, &sub.ID); err != nil {
		s.log.Error("period renewal allocation failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return sub, nil
}
