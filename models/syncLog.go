package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"gorm.io/gorm"
)

// SyncLog is the persisted record of one sync job run. A row is created when
// the job starts and is mutated only by that job's driver. For backfill jobs
// the cursor and metadata columns carry the resumption checkpoint.
type SyncLog struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	SyncType         string     `gorm:"index;size:20;not null" json:"sync_type"`
	Status           string     `gorm:"index;size:20;not null" json:"status"`
	TriggeredBy      string     `gorm:"size:20" json:"triggered_by"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsCreated   int        `json:"records_created"`
	Error            *string    `gorm:"type:text" json:"error"`
	Cursor           *string    `gorm:"size:512" json:"cursor"`
	MetadataJSON     []byte     `gorm:"type:json" json:"metadata"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncMetadata is the free-form metadata snapshot stored on a SyncLog row.
type SyncMetadata struct {
	LocationIndex  int                    `json:"location_index,omitempty"`
	StopBeforeDate string                 `json:"stop_before_date,omitempty"`
	Locations      map[string]int         `json:"locations,omitempty"`
	OldestSeen     string                 `json:"oldest_seen,omitempty"`
	Passes         map[string]PassOutcome `json:"passes,omitempty"`
}

// PassOutcome is the typed result of one derived pass: a count on success, a
// reason on failure. Failures never escalate past the pass itself.
type PassOutcome struct {
	Count  int    `json:"count"`
	Failed bool   `json:"failed,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func DecodeSyncMetadata(raw []byte) SyncMetadata {
	if len(raw) == 0 {
		return SyncMetadata{}
	}
	var meta SyncMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return SyncMetadata{}
	}
	return meta
}

func EncodeSyncMetadata(meta SyncMetadata) []byte {
	b, _ := json.Marshal(meta)
	return b
}

// StartSyncLog creates a running SyncLog row for a new job.
func StartSyncLog(ctx context.Context, syncType string, triggeredBy string, meta SyncMetadata) (*SyncLog, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	log := SyncLog{
		SyncType:     syncType,
		Status:       SyncStatusRunning,
		TriggeredBy:  triggeredBy,
		StartedAt:    time.Now(),
		MetadataJSON: EncodeSyncMetadata(meta),
	}
	if err := db.WithContext(ctx).Create(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// Checkpoint persists the current cursor, counters and metadata while the run
// is still in flight. Called after every backfill page.
func (s *SyncLog) Checkpoint(ctx context.Context, cursor *string, meta SyncMetadata) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}
	s.Cursor = cursor
	s.MetadataJSON = EncodeSyncMetadata(meta)
	return db.WithContext(ctx).Model(s).Updates(map[string]interface{}{
		"cursor":            s.Cursor,
		"metadata_json":     s.MetadataJSON,
		"records_processed": s.RecordsProcessed,
		"records_created":   s.RecordsCreated,
	}).Error
}

// Complete finalizes the run as completed with its counters and metadata.
func (s *SyncLog) Complete(ctx context.Context, meta SyncMetadata) error {
	return s.finalize(ctx, SyncStatusCompleted, nil, meta)
}

// Fail finalizes the run as failed. The last checkpoint stays untouched so a
// later resume can pick up from it.
func (s *SyncLog) Fail(ctx context.Context, cause error, meta SyncMetadata) error {
	msg := cause.Error()
	return s.finalize(ctx, SyncStatusFailed, &msg, meta)
}

func (s *SyncLog) finalize(ctx context.Context, status string, errMsg *string, meta SyncMetadata) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}
	now := time.Now()
	s.Status = status
	s.CompletedAt = &now
	s.Error = errMsg
	s.MetadataJSON = EncodeSyncMetadata(meta)
	return db.WithContext(ctx).Model(s).Updates(map[string]interface{}{
		"status":            s.Status,
		"completed_at":      s.CompletedAt,
		"error":             s.Error,
		"cursor":            s.Cursor,
		"metadata_json":     s.MetadataJSON,
		"records_processed": s.RecordsProcessed,
		"records_created":   s.RecordsCreated,
	}).Error
}

// GetSyncLog fetches one run by id.
func GetSyncLog(ctx context.Context, id uint) (*SyncLog, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var log SyncLog
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// ListSyncLogs returns the most recent runs, newest first.
func ListSyncLogs(ctx context.Context, limit int) ([]SyncLog, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var logs []SyncLog
	if err := db.WithContext(ctx).Order("id desc").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// LatestFailedBackfill returns the most recent failed backfill run, or nil
// when none exists. Operators resume from its checkpoint.
func LatestFailedBackfill(ctx context.Context) (*SyncLog, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var log SyncLog
	err := db.WithContext(ctx).
		Where("sync_type = ? AND status = ?", SyncTypeBackfill, SyncStatusFailed).
		Order("id desc").
		Take(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}
