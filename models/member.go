package models

import "time"

// Member is the referral-program enrollment derived for a synced client. At
// most one Member exists per client; enrollment is skip-if-exists and never
// overwrites an existing row.
type Member struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ClientId   int       `gorm:"uniqueIndex;not null" json:"client_id"`
	Phone      string    `gorm:"size:20" json:"phone"`
	EnrolledAt time.Time `json:"enrolled_at"`
	Source     string    `gorm:"size:30" json:"source"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
