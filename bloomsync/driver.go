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

// Server-owned backfill driver. The loop does not live in an operator
// session: each page is one Pub/Sub task, and the handler republishes the
// next task with the returned resumption triple until done or error. The
// checkpoint lives entirely on the SyncLog row, so the job survives the
// operator disconnecting.

// ErrBackfillActive guards against two overlapping backfill loops.
var ErrBackfillActive = errors.New("a backfill is already running")

var publishTask = PublishBackfillTask

const (
	backfillGuardKey = "sync:backfill:active"
	backfillGuardTTL = 15 * time.Minute
)

// backfillGuard is the redis record marking the loop as active. It expires on
// its own when the loop dies without releasing it.
type backfillGuard struct {
	SyncLogId uint      `json:"sync_log_id"`
	StartedAt time.Time `json:"started_at"`
}

// StartBackfill creates a new backfill log and publishes the first page task.
// Returns the new SyncLog id.
func StartBackfill(ctx context.Context, stopBeforeDate string) (uint, error) {
	if err := claimBackfillGuard(); err != nil {
		return 0, err
	}

	syncLog, err := models.StartSyncLog(ctx, models.SyncTypeBackfill, models.SyncTriggeredManual, models.SyncMetadata{
		StopBeforeDate: stopBeforeDate,
	})
	if err != nil {
		releaseBackfillGuard()
		return 0, err
	}

	task := BackfillTask{
		SyncLogId:      syncLog.ID,
		LocationIndex:  0,
		StopBeforeDate: stopBeforeDate,
	}
	if err := publishTask(ctx, task); err != nil {
		failErr := fmt.Errorf("publish backfill task: %w", err)
		_ = syncLog.Fail(ctx, failErr, models.DecodeSyncMetadata(syncLog.MetadataJSON))
		releaseBackfillGuard()
		return syncLog.ID, failErr
	}
	refreshBackfillGuard(syncLog.ID)
	return syncLog.ID, nil
}

// ResumeBackfill picks up after a failure: it reads the checkpoint from the
// most recent failed backfill log and starts a NEW log carrying that
// position forward. The failed row is never reopened.
func ResumeBackfill(ctx context.Context) (uint, error) {
	if err := claimBackfillGuard(); err != nil {
		return 0, err
	}

	failed, err := models.LatestFailedBackfill(ctx)
	if err != nil {
		releaseBackfillGuard()
		return 0, err
	}
	if failed == nil {
		releaseBackfillGuard()
		return 0, fmt.Errorf("no failed backfill to resume: %w", utils.ErrorRecordNotFound)
	}

	checkpoint := models.DecodeSyncMetadata(failed.MetadataJSON)
	syncLog, err := models.StartSyncLog(ctx, models.SyncTypeBackfill, models.SyncTriggeredManual, models.SyncMetadata{
		LocationIndex:  checkpoint.LocationIndex,
		StopBeforeDate: checkpoint.StopBeforeDate,
	})
	if err != nil {
		releaseBackfillGuard()
		return 0, err
	}

	task := BackfillTask{
		SyncLogId:      syncLog.ID,
		Cursor:         failed.Cursor,
		LocationIndex:  checkpoint.LocationIndex,
		StopBeforeDate: checkpoint.StopBeforeDate,
	}
	if err := publishTask(ctx, task); err != nil {
		failErr := fmt.Errorf("publish backfill task: %w", err)
		_ = syncLog.Fail(ctx, failErr, models.DecodeSyncMetadata(syncLog.MetadataJSON))
		releaseBackfillGuard()
		return syncLog.ID, failErr
	}
	refreshBackfillGuard(syncLog.ID)
	return syncLog.ID, nil
}

// processBackfillTask runs one page and republishes the next task. Terminal
// conditions (done, failed log, redelivered task against a finalized log)
// release the guard.
func processBackfillTask(ctx context.Context, task BackfillTask) error {
	if task.SyncLogId == 0 {
		return errors.New("invalid backfill task")
	}
	if guarded := guardedSyncLogId(); guarded != 0 && guarded != task.SyncLogId {
		// Redelivery from a superseded chain; the guard belongs to a newer run.
		return nil
	}

	req := BackfillRequest{
		Cursor:         task.Cursor,
		SyncLogId:      &task.SyncLogId,
		LocationIndex:  task.LocationIndex,
		StopBeforeDate: task.StopBeforeDate,
	}
	resp, err := RunBackfillPage(ctx, req)
	if err != nil {
		releaseBackfillGuard()
		if errors.Is(err, ErrLogFinalized) {
			// Redelivered task for a finished run; nothing to do.
			return nil
		}
		return err
	}
	if resp.Done {
		releaseBackfillGuard()
		return nil
	}

	refreshBackfillGuard(resp.SyncLogId)
	next := BackfillTask{
		SyncLogId:      resp.SyncLogId,
		Cursor:         resp.Cursor,
		LocationIndex:  resp.LocationIndex,
		StopBeforeDate: task.StopBeforeDate,
	}
	if err := publishTask(ctx, next); err != nil {
		releaseBackfillGuard()
		return err
	}
	return nil
}

// claimBackfillGuard writes the guard with SETNX so that two concurrent
// start/resume requests cannot both win: exactly one claim succeeds, the
// other sees ErrBackfillActive. The sync log id is filled in by the first
// refresh once the log row exists.
func claimBackfillGuard() error {
	won, err := config.SetRedisObjectNX(backfillGuardKey, backfillGuard{
		StartedAt: time.Now(),
	}, backfillGuardTTL)
	if err != nil {
		return err
	}
	if !won {
		return ErrBackfillActive
	}
	return nil
}

// guardedSyncLogId returns the sync log id the active guard belongs to,
// or 0 when no guard is held (or it has not been tied to a log yet).
func guardedSyncLogId() uint {
	var guard backfillGuard
	active, err := config.GetRedisObject(backfillGuardKey, &guard)
	if err != nil || !active {
		return 0
	}
	return guard.SyncLogId
}

func refreshBackfillGuard(syncLogId uint) {
	_ = config.SetRedisObject(backfillGuardKey, backfillGuard{
		SyncLogId: syncLogId,
		StartedAt: time.Now(),
	}, backfillGuardTTL)
}

func releaseBackfillGuard() {
	_ = config.RemoveRedisKey(backfillGuardKey)
}
