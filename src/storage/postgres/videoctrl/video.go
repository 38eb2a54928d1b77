package videoctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Task statuses as reported by the provider. The provider does not
// guarantee emitting QUEUED before PROCESSING; both are non-terminal and
// interchangeable from the poller's point of view.
const (
	StatusQueued     = "TASK_STATUS_QUEUED"
	StatusProcessing = "TASK_STATUS_PROCESSING"
	StatusSucceeded  = "TASK_STATUS_SUCCEED"
	StatusFailed     = "TASK_STATUS_FAILED"
)

// ErrTaskNotFound is returned when no record exists for a task id.
var ErrTaskNotFound = errors.New("task not found")

// IsTerminal reports whether a status is final. Terminal rows are never
// updated again.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

type AIVideo struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	TaskID        string    `gorm:"not null;uniqueIndex;column:task_id" json:"task_id"`
	UserID        string    `gorm:"not null;index;column:user_id" json:"user_id"`
	VideoURL      *string   `gorm:"column:video_url" json:"video_url"`
	Thumbnail     string    `gorm:"not null" json:"thumbnail"` // source drawing URL
	VideoStatus   string    `gorm:"not null;column:video_status" json:"video_status"`
	FailureReason string    `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	ArchiveURL    string    `gorm:"column:archive_url" json:"archive_url,omitempty"`
	GeneratedAt   time.Time `gorm:"column:generated_at;autoCreateTime" json:"generated_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (AIVideo) TableName() string {
	return "ai_videos"
}

type VideoService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewVideoService(db *gorm.DB) (*VideoService, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &VideoService{
		db:        db,
		snowflake: node,
	}, nil
}

// Create inserts the record for a freshly submitted task in processing
// state. The unique index on task_id keeps the one-row-per-task invariant.
func (s *VideoService) Create(ctx context.Context, taskID, userID, thumbnail string) (*AIVideo, error) {
	video := &AIVideo{
		ID:          s.snowflake.Generate().Int64(),
		TaskID:      taskID,
		UserID:      userID,
		Thumbnail:   thumbnail,
		VideoStatus: StatusProcessing,
	}

	result := s.db.WithContext(ctx).Create(video)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create video record: %v", result.Error)
	}

	return video, nil
}

func (s *VideoService) GetByTaskID(ctx context.Context, taskID string) (*AIVideo, error) {
	var video AIVideo
	result := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&video)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video record: %v", result.Error)
	}
	return &video, nil
}

// ApplyResult records a terminal outcome for a task. The update is
// restricted to non-terminal rows, so it is safe under concurrent delivery
// from the webhook and the reconcile path: whichever writer runs first
// wins, the other degrades to a no-op.
//
// Returns (true, nil) when this call performed the transition, (false, nil)
// when the row was already terminal (idempotent redelivery), and
// ErrTaskNotFound when no row exists for the task.
func (s *VideoService) ApplyResult(ctx context.Context, taskID, status, videoURL, reason string) (bool, error) {
	if !IsTerminal(status) {
		return false, fmt.Errorf("refusing non-terminal status %q for task %s", status, taskID)
	}

	updates := map[string]interface{}{
		"video_status": status,
		"updated_at":   time.Now(),
	}
	if status == StatusSucceeded {
		updates["video_url"] = videoURL
	} else {
		updates["failure_reason"] = reason
	}

	// Two attempts: the submitter's insert can commit between a zero-row
	// update and the follow-up read, in which case the read surfaces a
	// non-terminal row the update never saw.
	for attempt := 0; attempt < 2; attempt++ {
		result := s.db.WithContext(ctx).Model(&AIVideo{}).
			Where("task_id = ? AND video_status NOT IN ?", taskID, []string{StatusSucceeded, StatusFailed}).
			Updates(updates)
		if result.Error != nil {
			return false, fmt.Errorf("failed to update video record: %v", result.Error)
		}

		if result.RowsAffected > 0 {
			return true, nil
		}

		// Zero rows affected: either the task is unknown, the row already
		// reached a terminal state, or the insert landed mid-flight.
		existing, err := s.GetByTaskID(ctx, taskID)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, ErrTaskNotFound
		}
		if IsTerminal(existing.VideoStatus) {
			return false, nil
		}
	}

	return false, fmt.Errorf("failed to update video record for task %s: row stayed non-terminal", taskID)
}

// SetArchiveURL records the durable copy of a generated video. It never
// touches video_status or video_url; terminal rows stay immutable in those
// columns.
func (s *VideoService) SetArchiveURL(ctx context.Context, taskID, archiveURL string) error {
	result := s.db.WithContext(ctx).Model(&AIVideo{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"archive_url": archiveURL,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set archive url: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListByUser returns a user's videos, newest first, for the gallery.
func (s *VideoService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]AIVideo, error) {
	var videos []AIVideo

	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("generated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&videos)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list video records: %v", result.Error)
	}

	return videos, nil
}

// ListStale returns non-terminal rows created before the cutoff. These are
// tasks whose webhook either was lost or has not arrived yet.
func (s *VideoService) ListStale(ctx context.Context, cutoff time.Time) ([]AIVideo, error) {
	var videos []AIVideo

	result := s.db.WithContext(ctx).
		Where("video_status NOT IN ? AND generated_at < ?", []string{StatusSucceeded, StatusFailed}, cutoff).
		Order("generated_at ASC").
		Find(&videos)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list stale video records: %v", result.Error)
	}

	return videos, nil
}
