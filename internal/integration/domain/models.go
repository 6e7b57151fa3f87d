// Package domain contains the external data-source integration models.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Provider identifies the kind of external system an integration talks to.
type Provider string

const (
	ProviderRESTAPI  Provider = "rest_api"
	ProviderGraphQL  Provider = "graphql"
	ProviderPostgres Provider = "postgres"
)

type IntegrationStatus string

const (
	IntegrationStatusActive   IntegrationStatus = "active"
	IntegrationStatusError    IntegrationStatus = "error"
	IntegrationStatusDisabled IntegrationStatus = "disabled"
)

// Integration is a member-owned connection to an external data source.
// Config holds the provider-specific settings as stored JSON; the typed
// Parse*Config helpers decode it.
type Integration struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	MemberID     snowflake.ID      `gorm:"not null;index" json:"member_id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	Provider     Provider          `gorm:"type:text;not null" json:"provider"`
	Config       datatypes.JSONMap `gorm:"type:jsonb;not null" json:"config"`
	Status       IntegrationStatus `gorm:"type:text;not null;default:'active'" json:"status"`
	FailureCount int64             `gorm:"not null;default:0" json:"failure_count"`
	LastError    *string           `gorm:"type:text" json:"last_error,omitempty"`
	LastUsedAt   *time.Time        `gorm:"" json:"last_used_at,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Integration) TableName() string { return "integrations" }

func ValidProvider(p Provider) bool {
	switch p {
	case ProviderRESTAPI, ProviderGraphQL, ProviderPostgres:
		return true
	default:
		return false
	}
}

type RESTConfig struct {
	BaseURL string            `json:"baseUrl"`
	Headers map[string]string `json:"headers,omitempty"`
}

type GraphQLConfig struct {
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	SSLMode  string `json:"sslMode,omitempty"`
}

// ConnString returns the DSN, assembling one from discrete fields when no
// explicit dsn was configured.
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, port, c.Database, c.User, c.Password, sslMode)
}

func ParseRESTConfig(raw datatypes.JSONMap) (RESTConfig, error) {
	var cfg RESTConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return cfg, fmt.Errorf("rest_api config requires baseUrl")
	}
	return cfg, nil
}

func ParseGraphQLConfig(raw datatypes.JSONMap) (GraphQLConfig, error) {
	var cfg GraphQLConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return cfg, fmt.Errorf("graphql config requires endpoint")
	}
	return cfg, nil
}

func ParsePostgresConfig(raw datatypes.JSONMap) (PostgresConfig, error) {
	var cfg PostgresConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.DSN == "" && (cfg.Host == "" || cfg.Database == "") {
		return cfg, fmt.Errorf("postgres config requires dsn or host and database")
	}
	return cfg, nil
}

func decodeConfig(raw datatypes.JSONMap, out any) error {
	data, err := json.Marshal(map[string]any(raw))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
