package bloomsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/models"
	"bitbucket.org/radianceaesthetics/ops_backend/utils"
	"gorm.io/gorm"
)

// Upsert layer. One idempotent operation per owned entity, keyed by the
// upstream external id. Calling any of these repeatedly with the same input
// has no cumulative effect beyond the first call. No cross-entity invariants
// are enforced here: an appointment keeps a NULL client_id when the client
// could not be resolved.

func UpsertClient(ctx context.Context, db *gorm.DB, node bloomClientNode) (int, bool, error) {
	extID := strings.TrimSpace(node.ID)
	if extID == "" {
		return 0, false, errors.New("client id missing")
	}

	// Valid numbers are stored in E.164 form; anything else is kept as-is so
	// staff can still see what the upstream record holds.
	phone := strings.TrimSpace(node.Phone)
	if normalized, ok := utils.NormalizePhoneNumber(phone); ok {
		phone = normalized
	}

	values := map[string]interface{}{
		"first_name": strings.TrimSpace(node.FirstName),
		"last_name":  strings.TrimSpace(node.LastName),
		"email":      strings.TrimSpace(node.Email),
		"phone":      phone,
	}

	var existing models.Client
	err := db.WithContext(ctx).Where("external_id = ?", extID).Take(&existing).Error
	if err == nil {
		if uerr := db.WithContext(ctx).Model(&existing).Updates(values).Error; uerr != nil {
			return 0, false, uerr
		}
		return existing.ID, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, err
	}

	client := models.Client{
		ExternalId:     extID,
		FirstName:      strings.TrimSpace(node.FirstName),
		LastName:       strings.TrimSpace(node.LastName),
		Email:          strings.TrimSpace(node.Email),
		Phone:          phone,
		LifecycleStage: models.LifecycleStageLead,
	}
	if cerr := db.WithContext(ctx).Create(&client).Error; cerr != nil {
		return 0, false, cerr
	}
	return client.ID, true, nil
}

func UpsertAppointment(ctx context.Context, db *gorm.DB, node bloomAppointmentNode, clientId *int, locationKey string) (int, bool, error) {
	extID := strings.TrimSpace(node.ID)
	if extID == "" {
		return 0, false, errors.New("appointment id missing")
	}

	now := time.Now()
	values := map[string]interface{}{
		"client_id":    clientId,
		"location_key": locationKey,
		"status":       strings.ToLower(strings.TrimSpace(node.State)),
		"start_at":     parseTimeOrZero(node.StartAt),
		"end_at":       parseTimeOrZero(node.EndAt),
		"cancelled_at": parseTimeOrNil(node.CancelledAt),
		"synced_at":    now,
	}

	var existing models.Appointment
	err := db.WithContext(ctx).Where("external_id = ?", extID).Take(&existing).Error
	if err == nil {
		if uerr := db.WithContext(ctx).Model(&existing).Updates(values).Error; uerr != nil {
			return 0, false, uerr
		}
		return existing.ID, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, err
	}

	appointment := models.Appointment{
		ExternalId:  extID,
		ClientId:    clientId,
		LocationKey: locationKey,
		Status:      strings.ToLower(strings.TrimSpace(node.State)),
		StartAt:     parseTimeOrZero(node.StartAt),
		EndAt:       parseTimeOrZero(node.EndAt),
		CancelledAt: parseTimeOrNil(node.CancelledAt),
		SyncedAt:    now,
	}
	if cerr := db.WithContext(ctx).Create(&appointment).Error; cerr != nil {
		return 0, false, cerr
	}
	return appointment.ID, true, nil
}

// ReplaceAppointmentServices swaps the full line-item set for an appointment.
// Upstream gives line items no stable identifiers across requests, so this is
// delete-then-insert in one transaction, not a diff.
func ReplaceAppointmentServices(ctx context.Context, db *gorm.DB, appointmentId int, services []bloomServiceNode) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("appointment_id = ?", appointmentId).Delete(&models.AppointmentService{}).Error; err != nil {
			return err
		}
		for _, svc := range services {
			row := models.AppointmentService{
				AppointmentId:      appointmentId,
				ExternalServiceId:  strings.TrimSpace(svc.ID),
				ServiceName:        strings.TrimSpace(svc.Name),
				Category:           strings.TrimSpace(svc.Category.Name),
				ServiceSlug:        NormalizeService(svc.Name, svc.Category.Name),
				ProviderExternalId: strings.TrimSpace(svc.Provider.ID),
				ProviderId:         resolveProvider(ctx, tx, svc.Provider),
				Price:              decimalFromNumber(svc.Price),
				DurationMinutes:    svc.DurationMinutes,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func UpsertMembership(ctx context.Context, db *gorm.DB, node bloomMembershipNode, locations *LocationMap) (bool, *int, error) {
	extID := strings.TrimSpace(node.ID)
	if extID == "" {
		return false, nil, errors.New("membership id missing")
	}

	clientExtId := strings.TrimSpace(node.ClientId)
	clientId := lookupClientId(ctx, db, clientExtId)

	locationKey := ""
	if locations != nil {
		if key, ok := locations.Key(strings.TrimSpace(node.LocationId)); ok {
			locationKey = key
		}
	}

	vouchersJSON, _ := json.Marshal(node.Vouchers)
	values := map[string]interface{}{
		"client_external_id": clientExtId,
		"client_id":          clientId,
		"name":               strings.TrimSpace(node.Name),
		"status":             strings.ToLower(strings.TrimSpace(node.Status)),
		"interval":           strings.ToLower(strings.TrimSpace(node.Interval)),
		"unit_price":         decimalFromNumber(node.UnitPrice),
		"term_number":        node.TermNumber,
		"location_key":       locationKey,
		"vouchers_json":      vouchersJSON,
	}

	var existing models.Membership
	err := db.WithContext(ctx).Where("external_id = ?", extID).Take(&existing).Error
	if err == nil {
		if uerr := db.WithContext(ctx).Model(&existing).Updates(values).Error; uerr != nil {
			return false, clientId, uerr
		}
		return false, clientId, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, clientId, err
	}

	membership := models.Membership{
		ExternalId:       extID,
		ClientExternalId: clientExtId,
		ClientId:         clientId,
		Name:             strings.TrimSpace(node.Name),
		Status:           strings.ToLower(strings.TrimSpace(node.Status)),
		Interval:         strings.ToLower(strings.TrimSpace(node.Interval)),
		UnitPrice:        decimalFromNumber(node.UnitPrice),
		TermNumber:       node.TermNumber,
		LocationKey:      locationKey,
		VouchersJSON:     vouchersJSON,
	}
	if cerr := db.WithContext(ctx).Create(&membership).Error; cerr != nil {
		return false, clientId, cerr
	}
	return true, clientId, nil
}

// resolveProvider finds or creates the local row for an upstream staff
// member. Resolution failures leave provider_id NULL; the line item stays
// valid.
func resolveProvider(ctx context.Context, db *gorm.DB, node bloomProviderNode) *int {
	extID := strings.TrimSpace(node.ID)
	if extID == "" {
		return nil
	}

	var existing models.Provider
	err := db.WithContext(ctx).Where("external_id = ?", extID).Take(&existing).Error
	if err == nil {
		return &existing.ID
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}

	provider := models.Provider{ExternalId: extID, Name: strings.TrimSpace(node.Name)}
	if cerr := db.WithContext(ctx).Create(&provider).Error; cerr != nil {
		return nil
	}
	return &provider.ID
}

func lookupClientId(ctx context.Context, db *gorm.DB, externalId string) *int {
	if externalId == "" {
		return nil
	}
	var client models.Client
	if err := db.WithContext(ctx).Where("external_id = ?", externalId).Take(&client).Error; err != nil {
		return nil
	}
	return &client.ID
}

func parseTimeOrZero(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func parseTimeOrNil(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	return nil
}
