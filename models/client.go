package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client mirrors an upstream contact. External id is upstream-assigned,
// unique and immutable. account_credit and the lifecycle fields are derived:
// they are written only by the derived-state passes, never by the upsert layer.
type Client struct {
	ID                     int             `gorm:"primary_key" json:"id"`
	ExternalId             string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	FirstName              string          `gorm:"size:100" json:"first_name"`
	LastName               string          `gorm:"size:100" json:"last_name"`
	Email                  string          `gorm:"size:100;index" json:"email"`
	Phone                  string          `gorm:"size:20;index" json:"phone"`
	AccountCredit          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"account_credit"`
	AccountCreditUpdatedAt *time.Time      `json:"account_credit_updated_at"`
	LifecycleStage         string          `gorm:"size:20;index" json:"lifecycle_stage"`
	LifecycleUpdatedAt     *time.Time      `json:"lifecycle_updated_at"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
