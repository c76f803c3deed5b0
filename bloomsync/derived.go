package bloomsync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"bitbucket.org/radianceaesthetics/ops_backend/models"
	"bitbucket.org/radianceaesthetics/ops_backend/utils"
	"gorm.io/gorm"
)

// Derived-state passes. Each pass produces a typed PassOutcome instead of
// raising: a failed pass is recorded in the run metadata and logged, and never
// aborts the primary sync or the other passes.

const (
	lifecycleBatchSize = 50
	creditBatchSize    = 10
)

// RecomputeLifecycle calls the lifecycle stored procedure for the touched
// clients in id batches of at most 50.
func RecomputeLifecycle(ctx context.Context, db *gorm.DB, clientIds []int) models.PassOutcome {
	clientIds = utils.UniqueSlice(clientIds)
	if len(clientIds) == 0 {
		return models.PassOutcome{}
	}

	count := 0
	for _, batch := range utils.ChunkSlice(clientIds, lifecycleBatchSize) {
		idList := joinIds(batch)
		if err := db.WithContext(ctx).Exec("CALL recompute_client_lifecycle(?)", idList).Error; err != nil {
			config.LogError(config.GetLogger(), "bloomsync", "RecomputeLifecycle", "lifecycle batch failed", idList, err)
			return models.PassOutcome{Count: count, Failed: true, Reason: err.Error()}
		}
		count += len(batch)
	}
	return models.PassOutcome{Count: count}
}

// RefreshAccountCredits pulls upstream balances for the given clients in
// aliased batches of 10 and writes account_credit + its freshness timestamp.
func RefreshAccountCredits(ctx context.Context, db *gorm.DB, client *bloomClient, clientIds []int) models.PassOutcome {
	clientIds = utils.UniqueSlice(clientIds)
	if len(clientIds) == 0 {
		return models.PassOutcome{}
	}

	var clients []models.Client
	if err := db.WithContext(ctx).Where("id IN ?", clientIds).Find(&clients).Error; err != nil {
		return models.PassOutcome{Failed: true, Reason: err.Error()}
	}

	byExternalId := make(map[string]int, len(clients))
	externalIds := make([]string, 0, len(clients))
	for _, c := range clients {
		byExternalId[c.ExternalId] = c.ID
		externalIds = append(externalIds, c.ExternalId)
	}

	count := 0
	now := time.Now()
	for _, batch := range utils.ChunkSlice(externalIds, creditBatchSize) {
		credits, err := client.ClientCredits(ctx, batch)
		if err != nil {
			config.LogError(config.GetLogger(), "bloomsync", "RefreshAccountCredits", "balance lookup failed", batch, err)
			return models.PassOutcome{Count: count, Failed: true, Reason: err.Error()}
		}
		for extId, credit := range credits {
			id, ok := byExternalId[extId]
			if !ok {
				continue
			}
			err := db.WithContext(ctx).Model(&models.Client{}).Where("id = ?", id).Updates(map[string]interface{}{
				"account_credit":            credit,
				"account_credit_updated_at": now,
			}).Error
			if err != nil {
				config.LogError(config.GetLogger(), "bloomsync", "RefreshAccountCredits", "credit update failed", extId, err)
				continue
			}
			count++
		}
	}
	return models.PassOutcome{Count: count}
}

// EnrollReferrals creates a referral Member for every touched client that has
// a valid phone number and no Member yet. Skip-if-exists; an existing Member
// is never overwritten.
func EnrollReferrals(ctx context.Context, db *gorm.DB, clientIds []int) models.PassOutcome {
	clientIds = utils.UniqueSlice(clientIds)
	if len(clientIds) == 0 {
		return models.PassOutcome{}
	}

	var clients []models.Client
	if err := db.WithContext(ctx).Where("id IN ?", clientIds).Find(&clients).Error; err != nil {
		return models.PassOutcome{Failed: true, Reason: err.Error()}
	}

	count := 0
	for _, c := range clients {
		phone, ok := utils.NormalizePhoneNumber(c.Phone)
		if !ok {
			// Referrals go out over SMS, so a client without a dialable
			// number is never enrolled.
			continue
		}
		var existingCount int64
		if err := db.WithContext(ctx).Model(&models.Member{}).Where("client_id = ?", c.ID).Count(&existingCount).Error; err != nil {
			config.LogError(config.GetLogger(), "bloomsync", "EnrollReferrals", "member lookup failed", c.ID, err)
			continue
		}
		if existingCount > 0 {
			continue
		}
		member := models.Member{
			ClientId:   c.ID,
			Phone:      phone,
			EnrolledAt: time.Now(),
			Source:     "sync",
		}
		if err := db.WithContext(ctx).Create(&member).Error; err != nil {
			config.LogError(config.GetLogger(), "bloomsync", "EnrollReferrals", "member create failed", c.ID, err)
			continue
		}
		count++
	}
	return models.PassOutcome{Count: count}
}

func joinIds(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}
