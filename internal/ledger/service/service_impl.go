package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	"github.com/forgeapps/metering/internal/ledger/domain"
	obsmetrics "github.com/forgeapps/metering/internal/observability/metrics"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	"github.com/forgeapps/metering/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Metering   *config.MeteringConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	metering   *config.MeteringConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		metering:   p.Metering,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Allocate(ctx context.Context, req domain.AllocateRequest) (int64, error) {
	if req.MemberID == 0 {
		return 0, domain.ErrInvalidMember
	}
	if req.Amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if !domain.ValidTransactionType(req.Type) {
		return 0, domain.ErrInvalidType
	}

	var newBalance int64
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		nb, err := s.applyAllocation(ctx, tx, req, nil)
		if err != nil {
			return err
		}
		newBalance = nb
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(req.Type))
	}
	return newBalance, nil
}

func (s *Service) Deduct(ctx context.Context, req domain.DeductRequest) (int64, error) {
	if req.MemberID == 0 {
		return 0, domain.ErrInvalidMember
	}
	if req.Amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}

	var newBalance int64
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()

		// The conditional update is the race guard: two concurrent deducts
		// cannot both pass the balance >= amount predicate on the same row.
		// A missing row affects zero rows and fails the same way.
		result := tx.WithContext(ctx).Exec(
			`UPDATE credit_balances
			 SET balance = balance - ?, lifetime_spent = lifetime_spent + ?, updated_at = ?
			 WHERE member_id = ? AND balance >= ?`,
			req.Amount,
			req.Amount,
			now,
			req.MemberID,
			req.Amount,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInsufficientCredits
		}

		nb, err := s.readBalance(ctx, tx, req.MemberID)
		if err != nil {
			return err
		}
		newBalance = nb

		return s.appendTransaction(ctx, tx, &domain.CreditTransaction{
			ID:             s.genID.Generate(),
			MemberID:       req.MemberID,
			Amount:         -req.Amount,
			BalanceAfter:   newBalance,
			Type:           domain.TransactionTypeUsageDeduction,
			Description:    req.Description,
			SubscriptionID: req.Refs.SubscriptionID,
			UsageRecordID:  req.Refs.UsageRecordID,
			ChatID:         req.Refs.ChatID,
			CreatedAt:      now,
		}, req.Metadata)
	})
	if err != nil {
		return 0, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(domain.TransactionTypeUsageDeduction))
	}
	return newBalance, nil
}

// AllocateMonthly applies plan.MonthlyCredits plus a rollover bonus of
// min(currentBalance, maxRolloverCredits ?? monthlyCredits) when rollover is
// enabled. The bonus is granted on top of the untouched existing balance;
// the balance is never zeroed first.
func (s *Service) AllocateMonthly(ctx context.Context, memberID snowflake.ID, plan *plandomain.Plan, subscriptionID *snowflake.ID) (int64, error) {
	if memberID == 0 {
		return 0, domain.ErrInvalidMember
	}
	if plan == nil {
		return 0, plandomain.ErrPlanNotFound
	}

	var newBalance int64
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		current, err := s.readBalanceForUpdate(ctx, tx, memberID)
		if err != nil {
			return err
		}

		creditsToAdd := plan.MonthlyCredits
		rollover := int64(0)
		if plan.RolloverCredits && current > 0 {
			rolloverCap := plan.MonthlyCredits
			if plan.MaxRolloverCredits != nil {
				rolloverCap = *plan.MaxRolloverCredits
			}
			rollover = current
			if rollover > rolloverCap {
				rollover = rolloverCap
			}
			creditsToAdd += rollover
		}

		if creditsToAdd <= 0 {
			newBalance = current
			return nil
		}

		now := time.Now().UTC()
		metadata := map[string]any{
			"plan_id":          plan.ID.String(),
			"monthly_credits":  plan.MonthlyCredits,
			"rollover_credits": rollover,
		}
		nb, err := s.applyAllocation(ctx, tx, domain.AllocateRequest{
			MemberID:    memberID,
			Amount:      creditsToAdd,
			Type:        domain.TransactionTypeMonthlyAllocation,
			Description: fmt.Sprintf("Monthly credit allocation (%s)", plan.Name),
			Refs:        domain.RelatedRefs{SubscriptionID: subscriptionID},
			Metadata:    metadata,
		}, &now)
		if err != nil {
			return err
		}
		newBalance = nb
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(domain.TransactionTypeMonthlyAllocation))
	}
	return newBalance, nil
}

func (s *Service) GetBalance(ctx context.Context, memberID snowflake.ID) (domain.CreditBalance, error) {
	if memberID == 0 {
		return domain.CreditBalance{}, domain.ErrInvalidMember
	}

	var balance domain.CreditBalance
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Limit(1).
		Find(&balance).Error
	if err != nil {
		return domain.CreditBalance{}, err
	}
	if balance.MemberID == 0 {
		// Read-only zero projection; the row is only created by Allocate.
		return domain.CreditBalance{MemberID: memberID}, nil
	}
	return balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, memberID snowflake.ID, limit int) ([]domain.CreditTransaction, error) {
	if memberID == 0 {
		return nil, domain.ErrInvalidMember
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var transactions []domain.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// applyAllocation performs the upsert-then-increment inside the caller's
// transaction and appends the audit record with the committed balance.
func (s *Service) applyAllocation(ctx context.Context, tx *gorm.DB, req domain.AllocateRequest, resetAt *time.Time) (int64, error) {
	now := time.Now().UTC()

	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO credit_balances (member_id, balance, lifetime_earned, lifetime_spent, created_at, updated_at)
		 VALUES (?, 0, 0, 0, ?, ?)
		 ON CONFLICT (member_id) DO NOTHING`,
		req.MemberID,
		now,
		now,
	).Error; err != nil {
		return 0, err
	}

	query := `UPDATE credit_balances
		 SET balance = balance + ?, lifetime_earned = lifetime_earned + ?, updated_at = ?`
	args := []any{req.Amount, req.Amount, now}
	if resetAt != nil {
		query += `, last_reset_at = ?`
		args = append(args, resetAt.UTC())
	}
	query += ` WHERE member_id = ?`
	args = append(args, req.MemberID)

	result := tx.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, errors.New("credit balance row missing after upsert")
	}

	newBalance, err := s.readBalance(ctx, tx, req.MemberID)
	if err != nil {
		return 0, err
	}

	if err := s.appendTransaction(ctx, tx, &domain.CreditTransaction{
		ID:             s.genID.Generate(),
		MemberID:       req.MemberID,
		Amount:         req.Amount,
		BalanceAfter:   newBalance,
		Type:           req.Type,
		Description:    req.Description,
		SubscriptionID: req.Refs.SubscriptionID,
		UsageRecordID:  req.Refs.UsageRecordID,
		ChatID:         req.Refs.ChatID,
		CreatedAt:      now,
	}, req.Metadata); err != nil {
		return 0, err
	}

	return newBalance, nil
}

func (s *Service) appendTransaction(ctx context.Context, tx *gorm.DB, record *domain.CreditTransaction, metadata map[string]any) error {
	if metadata != nil {
		record.Metadata = datatypes.JSONMap(metadata)
	}
	return tx.WithContext(ctx).Create(record).Error
}

func (s *Service) readBalance(ctx context.Context, tx *gorm.DB, memberID snowflake.ID) (int64, error) {
	var balance int64
	err := tx.WithContext(ctx).Raw(
		`SELECT balance FROM credit_balances WHERE member_id = ?`,
		memberID,
	).Scan(&balance).Error
	return balance, err
}

// readBalanceForUpdate takes a row lock on dialects that support it so the
// rollover computation cannot race a concurrent mutation. SQLite serializes
// writers on its own.
func (s *Service) readBalanceForUpdate(ctx context.Context, tx *gorm.DB, memberID snowflake.ID) (int64, error) {
	stmt := tx.WithContext(ctx).
		Model(&domain.CreditBalance{}).
		Where("member_id = ?", memberID)
	if !strings.EqualFold(s.db.Dialector.Name(), "sqlite") {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var row domain.CreditBalance
	if err := stmt.Limit(1).Find(&row).Error; err != nil {
		return 0, err
	}
	return row.Balance, nil
}

// withRetry runs fn in a database transaction, retrying transient write
// conflicts a bounded number of times before surfacing ErrLedgerUnavailable.
func (s *Service) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempts := 3
	if s.metering != nil {
		if configured := s.metering.Get().LedgerRetryAttempts; configured > 0 {
			attempts = configured
		}
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !db.IsRetryableTxErr(err) {
			return err
		}
		lastErr = err
		s.log.Warn("ledger transaction conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, lastErr)
}
