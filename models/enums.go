package models

// Sync job types.
const (
	SyncTypeIncremental = "incremental"
	SyncTypeBackfill    = "backfill"
)

// Sync job statuses. Status only moves forward: running -> completed | failed.
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// Sync trigger types.
const (
	SyncTriggeredScheduled = "scheduled"
	SyncTriggeredManual    = "manual"
)

// Client lifecycle stages, recomputed from mirrored appointment history.
const (
	LifecycleStageLead   = "lead"
	LifecycleStageNew    = "new"
	LifecycleStageActive = "active"
	LifecycleStageAtRisk = "at_risk"
	LifecycleStageLapsed = "lapsed"
	LifecycleStageMember = "member"
)
