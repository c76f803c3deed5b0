package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Membership mirrors a recurring plan, upserted by external id on every
// membership pass, independent of the appointment sync. The client reference
// arrives as an external id and is resolved to a local id when known.
type Membership struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ExternalId       string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	ClientExternalId string          `gorm:"size:64;index" json:"client_external_id"`
	ClientId         *int            `gorm:"index" json:"client_id"`
	Name             string          `gorm:"size:200" json:"name"`
	Status           string          `gorm:"size:30;index" json:"status"`
	Interval         string          `gorm:"size:30" json:"interval"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TermNumber       int             `json:"term_number"`
	LocationKey      string          `gorm:"size:30" json:"location_key"`
	VouchersJSON     []byte          `gorm:"type:json" json:"vouchers"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
