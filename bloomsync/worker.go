package bloomsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"bitbucket.org/radianceaesthetics/ops_backend/models"
	"bitbucket.org/radianceaesthetics/ops_backend/utils"
	"gorm.io/gorm"
)

const (
	// Each invocation must finish within this ceiling; page caps keep the
	// work bounded.
	executionCeiling = 60 * time.Second

	incrementalPageCap  = 2
	incrementalPageSize = 50
	membershipPageSize  = 100
)

// RunIncrementalSync performs one bounded pass: up to incrementalPageCap
// pages of recent appointments per location through the upsert layer, then
// the derived passes. The SyncLog row is always finalized, win or lose; only
// a primary-pass failure marks it failed. Partial work committed before a
// failure is not rolled back; re-processing the same pages is safe.
func RunIncrementalSync(ctx context.Context, trigger string) (SyncSummary, error) {
	if trigger != models.SyncTriggeredManual {
		trigger = models.SyncTriggeredScheduled
	}
	if trigger == models.SyncTriggeredScheduled {
		if ok, reason := ShouldRunScheduled(time.Now()); !ok {
			return SyncSummary{Skipped: true, Reason: reason}, nil
		}
	}

	release, err := utils.JobLock(ctx, "incremental", 5*time.Minute, "bloomsync", "RunIncrementalSync")
	if err != nil {
		return SyncSummary{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, executionCeiling)
	defer cancel()

	client, err := newBloomClient()
	if err != nil {
		return SyncSummary{}, err
	}
	db := config.GetDB()
	if db == nil {
		return SyncSummary{}, errors.New("db is nil")
	}

	locations, err := models.ListLocations(ctx)
	if err != nil {
		return SyncSummary{}, err
	}
	locMap := NewLocationMap(locations)

	syncLog, err := models.StartSyncLog(ctx, models.SyncTypeIncremental, trigger, models.SyncMetadata{})
	if err != nil {
		return SyncSummary{}, err
	}

	meta := models.SyncMetadata{
		Locations: make(map[string]int, len(locations)),
		Passes:    make(map[string]models.PassOutcome),
	}

	processed := 0
	created := 0
	var touched []int

	// Primary pass: any failure here aborts the run and fails the log.
	for _, loc := range locations {
		var after *string
		for page := 0; page < incrementalPageCap; page++ {
			result, ferr := client.Appointments(ctx, loc.ExternalId, incrementalPageSize, after)
			if ferr != nil {
				syncLog.RecordsProcessed = processed
				syncLog.RecordsCreated = created
				_ = syncLog.Fail(ctx, ferr, meta)
				config.LogError(config.GetLogger(), "bloomsync", "RunIncrementalSync", "appointment pass failed", loc.Key, ferr)
				return SyncSummary{SyncLogId: syncLog.ID}, ferr
			}
			for _, edge := range result.Edges {
				clientId, wasCreated, aerr := applyAppointment(ctx, db, edge.Node, loc.Key)
				if aerr != nil {
					syncLog.RecordsProcessed = processed
					syncLog.RecordsCreated = created
					_ = syncLog.Fail(ctx, aerr, meta)
					return SyncSummary{SyncLogId: syncLog.ID}, aerr
				}
				processed++
				if wasCreated {
					created++
				}
				if clientId != nil {
					touched = append(touched, *clientId)
				}
				meta.Locations[loc.Key]++
			}
			if !result.PageInfo.HasNextPage {
				break
			}
			cursor := result.PageInfo.EndCursor
			after = &cursor
		}
	}

	// Derived passes: independent and non-fatal.
	membershipClients, membershipOutcome := syncMemberships(ctx, db, client, locMap)
	meta.Passes["memberships"] = membershipOutcome

	derivedClients := utils.UniqueSlice(append(append([]int{}, touched...), membershipClients...))
	meta.Passes["lifecycle"] = RecomputeLifecycle(ctx, db, derivedClients)
	meta.Passes["account_credits"] = RefreshAccountCredits(ctx, db, client, derivedClients)
	meta.Passes["referrals"] = EnrollReferrals(ctx, db, touched)

	syncLog.RecordsProcessed = processed
	syncLog.RecordsCreated = created
	if err := syncLog.Complete(ctx, meta); err != nil {
		return SyncSummary{SyncLogId: syncLog.ID}, err
	}

	return SyncSummary{
		SyncLogId:        syncLog.ID,
		RecordsProcessed: processed,
		RecordsCreated:   created,
		Passes:           meta.Passes,
	}, nil
}

// applyAppointment runs one upstream appointment through the upsert layer:
// client upsert, appointment upsert, full line-item replacement. Returns the
// resolved local client id (nil when absent) and whether the appointment row
// was created.
func applyAppointment(ctx context.Context, db *gorm.DB, node bloomAppointmentNode, locationKey string) (*int, bool, error) {
	var clientId *int
	if node.Client.ID != "" {
		id, _, err := UpsertClient(ctx, db, node.Client)
		if err != nil {
			// Appointment row stays valid with a NULL client reference.
			config.LogError(config.GetLogger(), "bloomsync", "applyAppointment", "client upsert failed", node.Client.ID, err)
		} else {
			clientId = &id
		}
	}

	appointmentId, created, err := UpsertAppointment(ctx, db, node, clientId, locationKey)
	if err != nil {
		return clientId, false, err
	}
	if err := ReplaceAppointmentServices(ctx, db, appointmentId, node.Services); err != nil {
		return clientId, created, err
	}
	return clientId, created, nil
}

// syncMemberships re-paginates all memberships and upserts them by external
// id. Returns the local client ids seen on membership rows for the credit
// pass, plus the typed outcome.
func syncMemberships(ctx context.Context, db *gorm.DB, client *bloomClient, locMap *LocationMap) ([]int, models.PassOutcome) {
	count := 0
	var clientIds []int
	var after *string

	for {
		page, err := client.Memberships(ctx, membershipPageSize, after)
		if err != nil {
			config.LogError(config.GetLogger(), "bloomsync", "syncMemberships", "membership fetch failed", nil, err)
			return clientIds, models.PassOutcome{Count: count, Failed: true, Reason: err.Error()}
		}
		for _, edge := range page.Edges {
			_, clientId, uerr := UpsertMembership(ctx, db, edge.Node, locMap)
			if uerr != nil {
				config.LogError(config.GetLogger(), "bloomsync", "syncMemberships", "membership upsert failed", edge.Node.ID, uerr)
				continue
			}
			count++
			if clientId != nil {
				clientIds = append(clientIds, *clientId)
			}
		}
		if !page.PageInfo.HasNextPage {
			return clientIds, models.PassOutcome{Count: count}
		}
		cursor := page.PageInfo.EndCursor
		after = &cursor
	}
}
