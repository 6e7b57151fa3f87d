package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeapps/metering/internal/integration/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresConnector opens a fresh connection per call. Query volume against
// external databases is low enough that pooling is not worth holding member
// credentials in memory between calls.
type PostgresConnector struct{}

func NewPostgresConnector() *PostgresConnector {
	return &PostgresConnector{}
}

func (c *PostgresConnector) Test(ctx context.Context, integ *domain.Integration) error {
	db, cleanup, err := c.open(integ)
	if err != nil {
		return err
	}
	defer cleanup()

	var one int
	return db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

func (c *PostgresConnector) Query(ctx context.Context, integ *domain.Integration, qr domain.QueryRequest) (*domain.QueryResult, error) {
	if err := ensureReadOnly(qr.Query); err != nil {
		return nil, err
	}

	db, cleanup, err := c.open(integ)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var rows []map[string]any
	if err := db.WithContext(ctx).Raw(qr.Query).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return &domain.QueryResult{Data: rows, RowCount: len(rows)}, nil
}

func (c *PostgresConnector) open(integ *domain.Integration) (*gorm.DB, func(), error) {
	cfg, err := domain.ParsePostgresConfig(integ.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	db, err := gorm.Open(postgres.Open(cfg.ConnString()), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// ensureReadOnly rejects anything but a single SELECT or WITH statement.
// Member-supplied SQL must never mutate the external database.
func ensureReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("%w: query is empty", domain.ErrQueryNotAllowed)
	}
	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return fmt.Errorf("%w: multiple statements", domain.ErrQueryNotAllowed)
	}
	head := strings.ToUpper(trimmed)
	if !strings.HasPrefix(head, "SELECT") && !strings.HasPrefix(head, "WITH") {
		return fmt.Errorf("%w: only read queries are permitted", domain.ErrQueryNotAllowed)
	}
	return nil
}
