package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"zoopixie/src/infrastructure/event"
	"zoopixie/src/log"
	"zoopixie/src/novita"
	"zoopixie/src/storage/postgres/videoctrl"
)

// ResultStore applies terminal task outcomes to the record store.
type ResultStore interface {
	ApplyResult(ctx context.Context, taskID, status, videoURL, reason string) (bool, error)
	GetByTaskID(ctx context.Context, taskID string) (*videoctrl.AIVideo, error)
}

// ResultPublisher announces newly completed videos to downstream consumers.
type ResultPublisher interface {
	PublishVideoResult(resultMsg event.VideoResultMessage) error
}

// WebhookHandler receives asynchronous task-result callbacks from the
// provider. It is stateless; the record store serializes concurrent
// deliveries through its guarded terminal update.
type WebhookHandler struct {
	videos ResultStore
	events ResultPublisher
}

func NewWebhookHandler(videos ResultStore, events ResultPublisher) *WebhookHandler {
	return &WebhookHandler{
		videos: videos,
		events: events,
	}
}

// HandleNovita processes one webhook delivery.
//
// 400 is a protocol mismatch or non-terminal status, neither of which
// redelivery can fix. 404 means the task has no local record (the insert
// after submission failed) and the event is dropped. 500 is a store
// failure; the provider's redelivery will retry it.
func (h *WebhookHandler) HandleNovita(c *gin.Context) {
	var webhookEvent novita.WebhookEvent
	if err := c.ShouldBindJSON(&webhookEvent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event payload"})
		return
	}

	if webhookEvent.EventType != novita.EventTypeAsyncTaskResult {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event type"})
		return
	}

	task := webhookEvent.Payload.Task
	if task.TaskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing task_id"})
		return
	}
	if !videoctrl.IsTerminal(task.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task not in a terminal state"})
		return
	}

	videoURL := ""
	if len(webhookEvent.Payload.Videos) > 0 {
		videoURL = webhookEvent.Payload.Videos[0].VideoURL
	}
	if task.Status == videoctrl.StatusSucceeded && videoURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing video url for succeeded task"})
		return
	}

	applied, err := h.videos.ApplyResult(c.Request.Context(), task.TaskID, task.Status, videoURL, task.Reason)
	if err != nil {
		if errors.Is(err, videoctrl.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No video found for the provided task_id, skipping update"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update video data"})
		return
	}

	// applied is false on redelivery of an already-applied event; the
	// completion event has been published already in that case.
	if applied && task.Status == videoctrl.StatusSucceeded && h.events != nil {
		h.publishResult(c.Request.Context(), task.TaskID, videoURL)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Video data updated successfully"})
}

// publishResult is best effort: the row update above is the authoritative
// state change, a lost event only delays archiving until the reconcile
// pass.
func (h *WebhookHandler) publishResult(ctx context.Context, taskID, videoURL string) {
	video, err := h.videos.GetByTaskID(ctx, taskID)
	if err != nil || video == nil {
		log.Error(err, "failed to load video record for result event", "task_id", taskID)
		return
	}

	err = h.events.PublishVideoResult(event.VideoResultMessage{
		TaskID:   taskID,
		UserID:   video.UserID,
		VideoURL: videoURL,
	})
	if err != nil {
		log.Error(err, "failed to publish video result event", "task_id", taskID)
	}
}
