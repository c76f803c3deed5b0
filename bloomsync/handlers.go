package bloomsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/models"
	"bitbucket.org/radianceaesthetics/ops_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
)

// Operator control surface. The admin UI (out of scope here) consumes these
// endpoints; session middleware resolves the token to a username beforehand.

func TestConnectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}
		client, err := newBloomClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		name, err := client.TestConnection(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true, "business": name})
	}
}

func IncrementalSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		req := TriggerSyncRequest{Trigger: models.SyncTriggeredManual}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		summary, err := RunIncrementalSync(c.Request.Context(), req.Trigger)
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				c.JSON(http.StatusConflict, gin.H{"error": "an incremental sync is already running"})
				return
			}
			// Primary-pass failure: the log is already marked failed.
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "syncLogId": summary.SyncLogId})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// BackfillPageHandler is the stateless single-page protocol operation, kept
// for gap repair alongside the server-owned loop.
func BackfillPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		var req BackfillRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		resp, err := RunBackfillPage(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, ErrLogFinalized) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "syncLogId": resp.SyncLogId})
				return
			}
			status := http.StatusInternalServerError
			if errors.Is(err, ErrNonJSONResponse) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"error": err.Error(), "syncLogId": resp.SyncLogId})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func StartBackfillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		var req StartBackfillRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		id, err := StartBackfill(c.Request.Context(), req.StopBeforeDate)
		if err != nil {
			if errors.Is(err, ErrBackfillActive) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

func ResumeBackfillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		id, err := ResumeBackfill(c.Request.Context())
		if err != nil {
			if errors.Is(err, ErrBackfillActive) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

func SyncLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireOperator(c) {
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		logs, err := models.ListSyncLogs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncLogResponse, 0, len(logs))
		for _, log := range logs {
			items = append(items, mapSyncLogToResponse(log))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func requireOperator(c *gin.Context) bool {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(username) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
		return false
	}
	return true
}

func mapSyncLogToResponse(log models.SyncLog) SyncLogResponse {
	var completedAt *string
	if log.CompletedAt != nil {
		s := log.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &s
	}
	return SyncLogResponse{
		ID:               log.ID,
		SyncType:         log.SyncType,
		Status:           log.Status,
		TriggeredBy:      log.TriggeredBy,
		StartedAt:        log.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt:      completedAt,
		RecordsProcessed: log.RecordsProcessed,
		RecordsCreated:   log.RecordsCreated,
		Error:            log.Error,
		Cursor:           log.Cursor,
		Metadata:         models.DecodeSyncMetadata(log.MetadataJSON),
	}
}
