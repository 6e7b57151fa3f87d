package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/subscription/domain"
	"gorm.io/gorm"
)

// liveStatuses are the states in which a subscription still grants plan
// entitlements.
var liveStatuses = []domain.SubscriptionStatus{
	domain.SubscriptionStatusActive,
	domain.SubscriptionStatusTrialing,
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Save(sub).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindActiveByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("member_id = ? AND status IN ?", memberID, liveStatuses).
		Order("created_at desc").
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Subscription, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("external_subscription_id = ?", externalID).
		Order("created_at desc").
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindByExternalCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("external_customer_id = ?", customerID).
		Order("created_at desc").
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) CancelActiveByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, canceled_at = ?, updated_at = ?
		 WHERE member_id = ? AND status IN ?`,
		domain.SubscriptionStatusCancelled,
		at,
		at,
		memberID,
		liveStatuses,
	)
	return result.RowsAffected, result.Error
}
