package bloomsync

import (
	"encoding/json"

	"bitbucket.org/radianceaesthetics/ops_backend/models"
)

// Wire shapes for the Bloom query API. Every list query returns the same
// pageInfo shape; the pagination logic depends on it verbatim.

type bloomPageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type bloomClientNode struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"mobilePhone"`
}

type bloomProviderNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bloomServiceNode struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category struct {
		Name string `json:"name"`
	} `json:"category"`
	Provider        bloomProviderNode `json:"staff"`
	Price           json.Number       `json:"price"`
	DurationMinutes int               `json:"duration"`
}

type bloomAppointmentNode struct {
	ID          string             `json:"id"`
	State       string             `json:"state"`
	StartAt     string             `json:"startAt"`
	EndAt       string             `json:"endAt"`
	CancelledAt string             `json:"cancelledAt"`
	Client      bloomClientNode    `json:"client"`
	Services    []bloomServiceNode `json:"appointmentServices"`
}

type appointmentsPage struct {
	Edges []struct {
		Node bloomAppointmentNode `json:"node"`
	} `json:"edges"`
	PageInfo bloomPageInfo `json:"pageInfo"`
}

type bloomMembershipNode struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     string      `json:"status"`
	Interval   string      `json:"interval"`
	UnitPrice  json.Number `json:"unitPrice"`
	TermNumber int         `json:"termNumber"`
	ClientId   string      `json:"clientId"`
	LocationId string      `json:"locationId"`
	Vouchers   []struct {
		ID       string `json:"id"`
		Quantity int    `json:"quantity"`
	} `json:"vouchers"`
}

type membershipsPage struct {
	Edges []struct {
		Node bloomMembershipNode `json:"node"`
	} `json:"edges"`
	PageInfo bloomPageInfo `json:"pageInfo"`
}

// Control-surface payloads.

type TriggerSyncRequest struct {
	Trigger string `json:"trigger" binding:"omitempty,oneof=manual scheduled"`
}

// SyncSummary is the result of one incremental run.
type SyncSummary struct {
	Skipped          bool                          `json:"skipped,omitempty"`
	Reason           string                        `json:"reason,omitempty"`
	SyncLogId        uint                          `json:"syncLogId,omitempty"`
	RecordsProcessed int                           `json:"recordsProcessed"`
	RecordsCreated   int                           `json:"recordsCreated"`
	Passes           map[string]models.PassOutcome `json:"passes,omitempty"`
}

// BackfillRequest is the resumption triple plus the optional stop threshold.
// A nil SyncLogId starts a new log row.
type BackfillRequest struct {
	Cursor         *string `json:"cursor"`
	SyncLogId      *uint   `json:"syncLogId"`
	LocationIndex  int     `json:"locationIndex" binding:"omitempty,min=0"`
	StopBeforeDate string  `json:"stopBeforeDate" binding:"omitempty,datetime=2006-01-02"`
}

type BackfillResponse struct {
	SyncLogId     uint    `json:"syncLogId"`
	Processed     int     `json:"processed"`
	Created       int     `json:"created"`
	Cursor        *string `json:"cursor"`
	LocationIndex int     `json:"locationIndex"`
	Done          bool    `json:"done"`
	LocationName  string  `json:"locationName,omitempty"`
	OldestSeen    *string `json:"oldestSeen,omitempty"`
}

type StartBackfillRequest struct {
	StopBeforeDate string `json:"stopBeforeDate" binding:"omitempty,datetime=2006-01-02"`
}

// BackfillTask is the Pub/Sub payload that drives the server-owned loop; one
// task per page.
type BackfillTask struct {
	SyncLogId      uint    `json:"sync_log_id"`
	Cursor         *string `json:"cursor"`
	LocationIndex  int     `json:"location_index"`
	StopBeforeDate string  `json:"stop_before_date"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncLogResponse struct {
	ID               uint                `json:"id"`
	SyncType         string              `json:"syncType"`
	Status           string              `json:"status"`
	TriggeredBy      string              `json:"triggeredBy"`
	StartedAt        string              `json:"startedAt"`
	CompletedAt      *string             `json:"completedAt"`
	RecordsProcessed int                 `json:"recordsProcessed"`
	RecordsCreated   int                 `json:"recordsCreated"`
	Error            *string             `json:"error"`
	Cursor           *string             `json:"cursor"`
	Metadata         models.SyncMetadata `json:"metadata"`
}
