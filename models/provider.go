package models

import "time"

// Provider maps an upstream staff member to a local row. Created on first
// sight during line-item resolution.
type Provider struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ExternalId string    `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Name       string    `gorm:"size:200" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
