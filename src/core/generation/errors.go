package generation

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the poll deadline passes with no terminal
// state observed. The job may still complete provider-side; the caller can
// retry the await.
var ErrTimeout = errors.New("timed out waiting for video generation result")

// UploadError means the drawing never reached object storage; no job was
// submitted.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload drawing: %v", e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// SubmissionError means the provider rejected or never received the
// generation request; no job exists anywhere.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to start video generation: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PersistError means the provider accepted the job but the local record
// insert failed. The provider-side task is orphaned: its webhook will find
// no row and be dropped.
type PersistError struct {
	TaskID string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to record task %s: %v", e.TaskID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// TerminalFailure means the provider reported the job as failed. Final for
// this task; the user has to start a new generation.
type TerminalFailure struct {
	TaskID string
	Reason string
}

func (e *TerminalFailure) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("video generation failed for task %s", e.TaskID)
	}
	return fmt.Sprintf("video generation failed for task %s: %s", e.TaskID, e.Reason)
}
