package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
)

// Location is one physical business location. The ordered list drives
// per-location pagination in both sync workers; Key is the internal location
// key the rest of the schema references.
type Location struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ExternalId string    `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Key        string    `gorm:"uniqueIndex;size:30;not null" json:"key"`
	Name       string    `gorm:"size:100" json:"name"`
	Position   int       `gorm:"not null;default:0" json:"position"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ListLocations returns all locations in their fixed sync order.
func ListLocations(ctx context.Context) ([]Location, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var locations []Location
	if err := db.WithContext(ctx).Order("position asc, id asc").Find(&locations).Error; err != nil {
		return nil, err
	}
	return locations, nil
}
