package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/integration/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, integ *domain.Integration) error {
	return db.WithContext(ctx).Create(integ).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, integ *domain.Integration) error {
	return db.WithContext(ctx).Save(integ).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM integrations WHERE id = ?`, id).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Integration, error) {
	var integ domain.Integration
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&integ).Error
	if err != nil {
		return nil, err
	}
	if integ.ID == 0 {
		return nil, nil
	}
	return &integ, nil
}

func (r *repo) ListByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]domain.Integration, error) {
	var integrations []domain.Integration
	err := db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at asc").
		Find(&integrations).Error
	if err != nil {
		return nil, err
	}
	return integrations, nil
}

func (r *repo) CountByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Integration{}).
		Where("member_id = ?", memberID).
		Count(&count).Error
	return count, err
}
