// Package domain contains the subscription plan catalog models.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Limit is a plan feature allowance: either a bounded count or unlimited.
// Stored as a bigint; negative means unlimited.
type Limit int64

const Unlimited Limit = -1

func BoundedLimit(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit(n)
}

func (l Limit) IsUnlimited() bool { return l < 0 }

// Allows reports whether one more item may be added to an existing count.
func (l Limit) Allows(count int64) bool {
	if l.IsUnlimited() {
		return true
	}
	return count < int64(l)
}

func (l Limit) Value() int64 { return int64(l) }

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return json.Marshal("unlimited")
	}
	return json.Marshal(int64(l))
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		if raw == "unlimited" {
			*l = Unlimited
			return nil
		}
		return fmt.Errorf("invalid limit %q", raw)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = BoundedLimit(n)
	return nil
}

// Plan is a catalog entry for a subscription tier. Plans are updated in place
// and soft-deactivated, never deleted.
type Plan struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Name               string       `gorm:"type:text;not null;uniqueIndex" json:"name"`
	MonthlyPrice       int64        `gorm:"not null;default:0" json:"monthly_price"`
	YearlyPrice        int64        `gorm:"not null;default:0" json:"yearly_price"`
	Currency           string       `gorm:"type:text;not null;default:'usd'" json:"currency"`
	MonthlyCredits     int64        `gorm:"not null;default:0" json:"monthly_credits"`
	RolloverCredits    bool         `gorm:"not null;default:false" json:"rollover_credits"`
	MaxRolloverCredits *int64       `gorm:"" json:"max_rollover_credits,omitempty"`
	MaxProjects        Limit        `gorm:"not null;default:0" json:"max_projects"`
	MaxIntegrations    Limit        `gorm:"not null;default:0" json:"max_integrations"`
	MaxTeamMembers     Limit        `gorm:"not null;default:0" json:"max_team_members"`
	MaxDeployments     Limit        `gorm:"not null;default:0" json:"max_deployments"`
	APIRateLimit       int          `gorm:"not null;default:60" json:"api_rate_limit"`
	Active             bool         `gorm:"not null;default:true" json:"active"`
	SortOrder          int          `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }
