package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Appointment mirrors a scheduled visit. Upsert is keyed by external id;
// re-syncing the same appointment never creates a duplicate row. client_id is
// NULL when the referenced client could not be resolved; the row stays valid.
type Appointment struct {
	ID          int        `gorm:"primary_key" json:"id"`
	ExternalId  string     `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	ClientId    *int       `gorm:"index" json:"client_id"`
	LocationKey string     `gorm:"size:30;index" json:"location_key"`
	Status      string     `gorm:"size:30" json:"status"`
	StartAt     time.Time  `gorm:"index" json:"start_at"`
	EndAt       time.Time  `json:"end_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	SyncedAt    time.Time  `json:"synced_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppointmentService is a line item of an appointment. Upstream does not give
// line items stable identifiers, so the set for an appointment is replaced
// wholesale on every sync of that appointment.
type AppointmentService struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	AppointmentId      int             `gorm:"index;not null" json:"appointment_id"`
	ExternalServiceId  string          `gorm:"size:64" json:"external_service_id"`
	ServiceName        string          `gorm:"size:200" json:"service_name"`
	Category           string          `gorm:"size:100" json:"category"`
	ServiceSlug        *string         `gorm:"size:50;index" json:"service_slug"`
	ProviderExternalId string          `gorm:"size:64" json:"provider_external_id"`
	ProviderId         *int            `gorm:"index" json:"provider_id"`
	Price              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	DurationMinutes    int             `json:"duration_minutes"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
