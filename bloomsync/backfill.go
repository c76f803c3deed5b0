package bloomsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"bitbucket.org/radianceaesthetics/ops_backend/models"
	"bitbucket.org/radianceaesthetics/ops_backend/utils"
)

const backfillPageSize = 100

// ErrLogFinalized is returned when a backfill page is requested against a
// SyncLog that already reached a terminal status. A resume must start a fresh
// log carrying the old checkpoint, never reopen the old row.
var ErrLogFinalized = errors.New("sync log is already finalized")

// RunBackfillPage is the stateless single-page backfill operation. It fetches
// exactly one page for the location at req.LocationIndex starting from
// req.Cursor, applies the upsert layer exactly as the incremental worker
// does, persists the advanced checkpoint on the SyncLog, and reports the next
// resumption triple. State transitions per call:
//
//	more pages at this location  -> same location, next cursor
//	location exhausted           -> next location, nil cursor
//	stopBeforeDate crossed       -> next location, nil cursor
//	all locations exhausted      -> done
//	upstream error               -> log failed; prior checkpoint stays valid
func RunBackfillPage(ctx context.Context, req BackfillRequest) (BackfillResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, executionCeiling)
	defer cancel()

	client, err := newBloomClient()
	if err != nil {
		return BackfillResponse{}, err
	}
	db := config.GetDB()
	if db == nil {
		return BackfillResponse{}, errors.New("db is nil")
	}

	locations, err := models.ListLocations(ctx)
	if err != nil {
		return BackfillResponse{}, err
	}
	if len(locations) == 0 {
		return BackfillResponse{}, errors.New("no locations configured")
	}

	index := req.LocationIndex
	if index < 0 {
		index = 0
	}

	var syncLog *models.SyncLog
	if req.SyncLogId != nil {
		syncLog, err = models.GetSyncLog(ctx, *req.SyncLogId)
		if err != nil {
			return BackfillResponse{}, err
		}
		if syncLog.Status != models.SyncStatusRunning {
			return BackfillResponse{SyncLogId: syncLog.ID}, ErrLogFinalized
		}
	} else {
		syncLog, err = models.StartSyncLog(ctx, models.SyncTypeBackfill, models.SyncTriggeredManual, models.SyncMetadata{
			LocationIndex:  index,
			StopBeforeDate: req.StopBeforeDate,
		})
		if err != nil {
			return BackfillResponse{}, err
		}
	}

	meta := models.DecodeSyncMetadata(syncLog.MetadataJSON)
	if meta.Locations == nil {
		meta.Locations = make(map[string]int)
	}
	if req.StopBeforeDate != "" {
		meta.StopBeforeDate = req.StopBeforeDate
	}

	if index >= len(locations) {
		meta.LocationIndex = index
		_ = syncLog.Complete(ctx, meta)
		return BackfillResponse{SyncLogId: syncLog.ID, LocationIndex: index, Done: true}, nil
	}
	loc := locations[index]

	page, err := client.Appointments(ctx, loc.ExternalId, backfillPageSize, req.Cursor)
	if err != nil {
		if errors.Is(err, ErrNonJSONResponse) {
			err = fmt.Errorf("wait a few minutes, then resume from the last checkpoint: %w", err)
		}
		// The prior checkpoint on the log row remains the resumption point.
		_ = syncLog.Fail(ctx, err, meta)
		config.LogError(config.GetLogger(), "bloomsync", "RunBackfillPage", "page fetch failed", loc.Key, err)
		return BackfillResponse{SyncLogId: syncLog.ID, LocationIndex: index, Cursor: req.Cursor}, err
	}

	processed := 0
	created := 0
	var oldest *time.Time
	for _, edge := range page.Edges {
		_, wasCreated, aerr := applyAppointment(ctx, db, edge.Node, loc.Key)
		if aerr != nil {
			_ = syncLog.Fail(ctx, aerr, meta)
			return BackfillResponse{SyncLogId: syncLog.ID, LocationIndex: index, Cursor: req.Cursor}, aerr
		}
		processed++
		if wasCreated {
			created++
		}
		if startAt := parseTimeOrNil(edge.Node.StartAt); startAt != nil {
			if oldest == nil || startAt.Before(*oldest) {
				oldest = startAt
			}
		}
	}

	// The stored threshold survives page calls that omit the field, so a
	// gap-repair request against a running log cannot widen the run.
	crossedStop := false
	if meta.StopBeforeDate != "" && oldest != nil {
		if stop, perr := time.Parse("2006-01-02", meta.StopBeforeDate); perr == nil && oldest.Before(stop) {
			crossedStop = true
		}
	}

	var nextCursor *string
	nextIndex := index
	if !page.PageInfo.HasNextPage || crossedStop {
		nextIndex = index + 1
	} else {
		cursor := page.PageInfo.EndCursor
		nextCursor = &cursor
	}
	done := nextIndex >= len(locations)

	syncLog.RecordsProcessed += processed
	syncLog.RecordsCreated += created
	meta.LocationIndex = nextIndex
	meta.Locations[loc.Key] += processed
	var oldestSeen *string
	if oldest != nil {
		meta.OldestSeen = oldest.UTC().Format(time.RFC3339)
		oldestSeen = utils.NilIfEmpty(meta.OldestSeen)
	}

	if done {
		syncLog.Cursor = nil
		if err := syncLog.Complete(ctx, meta); err != nil {
			return BackfillResponse{SyncLogId: syncLog.ID}, err
		}
	} else {
		if err := syncLog.Checkpoint(ctx, nextCursor, meta); err != nil {
			return BackfillResponse{SyncLogId: syncLog.ID}, err
		}
	}

	return BackfillResponse{
		SyncLogId:     syncLog.ID,
		Processed:     processed,
		Created:       created,
		Cursor:        nextCursor,
		LocationIndex: nextIndex,
		Done:          done,
		LocationName:  loc.Name,
		OldestSeen:    oldestSeen,
	}, nil
}
