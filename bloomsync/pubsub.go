package bloomsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

// PublishBackfillTask enqueues one backfill page task.
func PublishBackfillTask(ctx context.Context, task BackfillTask) error {
	topicName := strings.TrimSpace(os.Getenv("BACKFILL_TOPIC"))
	if topicName == "" {
		topicName = "bloom-backfill"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("BACKFILL_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(task)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler receives one backfill page task from the push
// subscription, processes it and republishes the follow-up task. Always 204:
// a failed page is recorded on the SyncLog, not retried by redelivery.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_BACKFILL_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var task BackfillTask
		if err := json.Unmarshal(envelope.Message.Data, &task); err != nil {
			c.Status(204)
			return
		}
		if task.SyncLogId == 0 {
			c.Status(204)
			return
		}

		if perr := processBackfillTask(c.Request.Context(), task); perr != nil {
			config.LogError(config.GetLogger(), "bloomsync", "PubSubPushHandler", "backfill task failed", task.SyncLogId, perr)
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
