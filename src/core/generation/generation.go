package generation

import (
	"context"
	"time"

	"zoopixie/src/log"
	"zoopixie/src/novita"
	"zoopixie/src/storage/postgres/videoctrl"
)

// drawingPrompt is the canned generation prompt. It is fixed by product
// design and never user-editable.
const drawingPrompt = `Act as an AI that transforms children's drawings into magical, realistic animated videos. ` +
	`When a child uploads a drawing (such as a car, dragon, or rocket), generate a short 10-second video that brings the drawing to life. ` +
	`The video should make the drawing appear as though it is in a movie - realistic, yet full of imagination and wonder. ` +
	`Retain the original colors and style of the drawing, while making it come to life in a dynamic, animated way. ` +
	`The video should be exciting, visually captivating, and inspire the child to create more art.`

// Uploader stores a drawing and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, imageBytes []byte, userID string) (string, error)
}

// Submitter submits an async generation task to the provider.
type Submitter interface {
	SubmitVideoTask(ctx context.Context, req novita.GenerationRequest) (string, error)
}

// VideoStore is the slice of the record store the pipeline needs.
type VideoStore interface {
	Create(ctx context.Context, taskID, userID, thumbnail string) (*videoctrl.AIVideo, error)
	GetByTaskID(ctx context.Context, taskID string) (*videoctrl.AIVideo, error)
}

type Config struct {
	Width        int
	Height       int
	FastMode     bool
	WebhookURL   string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Service implements the generation pipeline: submit a drawing for
// animation, then await the result by polling the record store until the
// webhook (or the reconciler) has written a terminal state.
type Service struct {
	uploader Uploader
	provider Submitter
	store    VideoStore
	config   Config
	results  *ResultCache
}

func NewService(uploader Uploader, provider Submitter, store VideoStore, config Config) *Service {
	if config.Width == 0 {
		config.Width = 720
	}
	if config.Height == 0 {
		config.Height = 1280
	}
	if config.PollInterval == 0 {
		config.PollInterval = 20 * time.Second
	}
	if config.PollTimeout == 0 {
		config.PollTimeout = 2 * time.Minute
	}

	return &Service{
		uploader: uploader,
		provider: provider,
		store:    store,
		config:   config,
		results:  NewResultCache(),
	}
}

// Submit uploads the drawing, submits the generation task and records it in
// processing state. Any step failing aborts the whole operation: the caller
// either gets a task id backed by a record, or an error and no visible
// state.
//
// If the record insert fails after the provider accepted the task, the task
// is orphaned provider-side. Its eventual webhook finds no row and is
// dropped; recovery is not attempted here.
func (s *Service) Submit(ctx context.Context, imageBytes []byte, userID string) (string, error) {
	imageURL, err := s.uploader.Upload(ctx, imageBytes, userID)
	if err != nil {
		return "", &UploadError{Err: err}
	}

	req := novita.GenerationRequest{
		ImageURL: imageURL,
		Height:   s.config.Height,
		Width:    s.config.Width,
		Prompt:   drawingPrompt,
		FastMode: s.config.FastMode,
	}
	if s.config.WebhookURL != "" {
		req.Extra = &novita.Extra{Webhook: &novita.Webhook{URL: s.config.WebhookURL}}
	}

	taskID, err := s.provider.SubmitVideoTask(ctx, req)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}

	// New in-flight task; drop any stale outcome cached under this id.
	s.results.Begin(taskID)

	if _, err := s.store.Create(ctx, taskID, userID, imageURL); err != nil {
		log.Error(err, "task submitted but record insert failed, provider-side task is orphaned",
			"task_id", taskID, "user_id", userID)
		return "", &PersistError{TaskID: taskID, Err: err}
	}

	log.Info("video generation task submitted", "task_id", taskID, "user_id", userID)
	return taskID, nil
}

// AwaitResult polls the record store at a fixed interval until the task
// reaches a terminal state, the poll deadline passes, or ctx is cancelled.
// It returns the video URL on success, a *TerminalFailure when the provider
// reported failure, ErrTimeout on deadline expiry, and ctx.Err() on
// cancellation. Transient store errors are swallowed and retried up to the
// deadline.
//
// Always returns within PollTimeout plus one poll interval.
func (s *Service) AwaitResult(ctx context.Context, taskID string) (string, error) {
	if videoURL, err, ok := s.results.Get(taskID); ok {
		return videoURL, err
	}

	deadline := time.Now().Add(s.config.PollTimeout)

	for {
		video, err := s.store.GetByTaskID(ctx, taskID)
		switch {
		case err != nil:
			// Transient store error: keep polling until the deadline.
			log.Debug("poll query failed, will retry", "task_id", taskID, "error", err.Error())
		case video == nil:
			// Row not visible. Either a bogus task id or the insert has not
			// committed yet; both resolve to timeout if it stays that way.
			log.Debug("no record for task yet", "task_id", taskID)
		case video.VideoStatus == videoctrl.StatusSucceeded:
			if video.VideoURL != nil {
				s.results.Publish(taskID, *video.VideoURL, nil)
				return *video.VideoURL, nil
			}
			// The terminal update writes status and url atomically, so this
			// is unreachable; keep polling rather than surface a half row.
			log.Error(nil, "succeeded row without video url", "task_id", taskID)
		case video.VideoStatus == videoctrl.StatusFailed:
			failure := &TerminalFailure{TaskID: taskID, Reason: video.FailureReason}
			s.results.Publish(taskID, "", failure)
			return "", failure
		}

		if time.Now().After(deadline) {
			// Not cached: the task may still finish, a later await should
			// poll again.
			return "", ErrTimeout
		}

		timer := time.NewTimer(s.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}
