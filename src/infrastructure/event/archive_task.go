package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"

	"zoopixie/src/log"
	"zoopixie/src/storage/postgres/videoctrl"
)

// ArchiveStore is the slice of object storage the archive task needs.
type ArchiveStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error
	PublicURL(bucketName, objectName string) string
}

// ArchiveRecorder records where the durable copy of a video lives.
type ArchiveRecorder interface {
	SetArchiveURL(ctx context.Context, taskID, archiveURL string) error
}

// ArchiveTask copies a finished video from the provider's short-lived URL
// into our own bucket. Provider URLs expire; the gallery needs media that
// outlives them.
type ArchiveTask struct {
	httpClient *http.Client
	store      ArchiveStore
	videos     ArchiveRecorder
	bucket     string
}

func NewArchiveTask(httpClient *http.Client, store ArchiveStore, videos ArchiveRecorder, bucket string) *ArchiveTask {
	return &ArchiveTask{
		httpClient: httpClient,
		store:      store,
		videos:     videos,
		bucket:     bucket,
	}
}

// HandleVideoResult processes one video-results message. Download and
// storage errors are returned so the router's retry middleware can requeue;
// a missing record means the row was never created (orphaned task) and the
// message is dropped.
func (t *ArchiveTask) HandleVideoResult(msg *message.Message) error {
	var resultMsg VideoResultMessage
	if err := json.Unmarshal(msg.Payload, &resultMsg); err != nil {
		return fmt.Errorf("failed to unmarshal video result message: %w", err)
	}
	if resultMsg.VideoURL == "" {
		log.Info("video result message without url, skipping", "task_id", resultMsg.TaskID)
		return nil
	}

	ctx := msg.Context()

	data, err := t.download(ctx, resultMsg.VideoURL)
	if err != nil {
		return fmt.Errorf("failed to download video for task %s: %w", resultMsg.TaskID, err)
	}

	objectName := fmt.Sprintf("%s/%s.mp4", resultMsg.UserID, resultMsg.TaskID)
	if err := t.store.PutObject(ctx, t.bucket, objectName, data, "video/mp4"); err != nil {
		return fmt.Errorf("failed to store video for task %s: %w", resultMsg.TaskID, err)
	}

	archiveURL := t.store.PublicURL(t.bucket, objectName)
	if err := t.videos.SetArchiveURL(ctx, resultMsg.TaskID, archiveURL); err != nil {
		if errors.Is(err, videoctrl.ErrTaskNotFound) {
			log.Info("no record for archived video, dropping", "task_id", resultMsg.TaskID)
			return nil
		}
		return fmt.Errorf("failed to record archive url for task %s: %w", resultMsg.TaskID, err)
	}

	log.Info("video archived", "task_id", resultMsg.TaskID, "archive_url", archiveURL)
	return nil
}

func (t *ArchiveTask) download(ctx context.Context, videoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", videoURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
