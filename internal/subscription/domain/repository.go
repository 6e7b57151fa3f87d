package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Save(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActiveByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*Subscription, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	FindByExternalCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Subscription, error)
	// CancelActiveByMember forces any live (active or trialing) subscription
	// for the member into cancelled status. Returns the number of rows affected.
	CancelActiveByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID, at time.Time) (int64, error)
}
