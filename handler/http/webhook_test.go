package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	httpHdlr "zoopixie/handler/http"
	"zoopixie/src/infrastructure/event"
	"zoopixie/src/novita"
	"zoopixie/src/storage/postgres/videoctrl"
)

type applyCall struct {
	taskID   string
	status   string
	videoURL string
	reason   string
}

type fakeResultStore struct {
	applied  bool
	applyErr error
	calls    []applyCall
	video    *videoctrl.AIVideo
	getErr   error
}

func (f *fakeResultStore) ApplyResult(ctx context.Context, taskID, status, videoURL, reason string) (bool, error) {
	f.calls = append(f.calls, applyCall{taskID: taskID, status: status, videoURL: videoURL, reason: reason})
	return f.applied, f.applyErr
}

func (f *fakeResultStore) GetByTaskID(ctx context.Context, taskID string) (*videoctrl.AIVideo, error) {
	return f.video, f.getErr
}

type fakePublisher struct {
	published []event.VideoResultMessage
	err       error
}

func (f *fakePublisher) PublishVideoResult(resultMsg event.VideoResultMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, resultMsg)
	return nil
}

func webhookRouter(store *fakeResultStore, publisher *fakePublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := httpHdlr.NewWebhookHandler(store, publisher)
	r.POST("/webhooks/novita", handler.HandleNovita)
	return r
}

func postWebhook(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}

	req := httptest.NewRequest("POST", "/webhooks/novita", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func succeededEvent(taskID, videoURL string) novita.WebhookEvent {
	return novita.WebhookEvent{
		EventType: novita.EventTypeAsyncTaskResult,
		Payload: novita.TaskResult{
			Task:   novita.Task{TaskID: taskID, Status: videoctrl.StatusSucceeded},
			Videos: []novita.Video{{VideoURL: videoURL}},
		},
	}
}

func TestWebhookRejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{
			name: "invalid json",
			body: "{not json",
		},
		{
			name: "wrong event type",
			body: novita.WebhookEvent{
				EventType: "TASK_PROGRESS",
				Payload: novita.TaskResult{
					Task: novita.Task{TaskID: "t1", Status: videoctrl.StatusSucceeded},
				},
			},
		},
		{
			name: "non-terminal status",
			body: novita.WebhookEvent{
				EventType: novita.EventTypeAsyncTaskResult,
				Payload: novita.TaskResult{
					Task: novita.Task{TaskID: "t1", Status: videoctrl.StatusProcessing},
				},
			},
		},
		{
			name: "missing task id",
			body: novita.WebhookEvent{
				EventType: novita.EventTypeAsyncTaskResult,
				Payload: novita.TaskResult{
					Task: novita.Task{Status: videoctrl.StatusSucceeded},
				},
			},
		},
		{
			name: "succeeded without video url",
			body: novita.WebhookEvent{
				EventType: novita.EventTypeAsyncTaskResult,
				Payload: novita.TaskResult{
					Task: novita.Task{TaskID: "t1", Status: videoctrl.StatusSucceeded},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeResultStore{}
			w := postWebhook(t, webhookRouter(store, &fakePublisher{}), tt.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(store.calls) != 0 {
				t.Errorf("store mutated %d times, want 0", len(store.calls))
			}
		})
	}
}

func TestWebhookAppliesSuccess(t *testing.T) {
	store := &fakeResultStore{
		applied: true,
		video:   &videoctrl.AIVideo{TaskID: "t1", UserID: "u1"},
	}
	publisher := &fakePublisher{}

	w := postWebhook(t, webhookRouter(store, publisher), succeededEvent("t1", "https://x/a.mp4"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(store.calls) != 1 {
		t.Fatalf("ApplyResult called %d times, want 1", len(store.calls))
	}
	call := store.calls[0]
	if call.taskID != "t1" || call.status != videoctrl.StatusSucceeded || call.videoURL != "https://x/a.mp4" {
		t.Errorf("ApplyResult call = %+v", call)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published %d events, want 1", len(publisher.published))
	}
	if got := publisher.published[0]; got.TaskID != "t1" || got.UserID != "u1" || got.VideoURL != "https://x/a.mp4" {
		t.Errorf("published event = %+v", got)
	}
}

func TestWebhookAppliesFailure(t *testing.T) {
	store := &fakeResultStore{applied: true}
	publisher := &fakePublisher{}

	w := postWebhook(t, webhookRouter(store, publisher), novita.WebhookEvent{
		EventType: novita.EventTypeAsyncTaskResult,
		Payload: novita.TaskResult{
			Task: novita.Task{TaskID: "t1", Status: videoctrl.StatusFailed, Reason: "nsfw content detected"},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(store.calls) != 1 {
		t.Fatalf("ApplyResult called %d times, want 1", len(store.calls))
	}
	call := store.calls[0]
	if call.status != videoctrl.StatusFailed || call.reason != "nsfw content detected" {
		t.Errorf("ApplyResult call = %+v", call)
	}
	if len(publisher.published) != 0 {
		t.Errorf("published %d events for a failed task, want 0", len(publisher.published))
	}
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	// applied=false models a row that already holds this terminal state.
	store := &fakeResultStore{
		applied: false,
		video:   &videoctrl.AIVideo{TaskID: "t1", UserID: "u1"},
	}
	publisher := &fakePublisher{}

	w := postWebhook(t, webhookRouter(store, publisher), succeededEvent("t1", "https://x/a.mp4"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on redelivery", w.Code)
	}
	if len(publisher.published) != 0 {
		t.Errorf("published %d events on redelivery, want 0", len(publisher.published))
	}
}

func TestWebhookUnknownTask(t *testing.T) {
	store := &fakeResultStore{applyErr: videoctrl.ErrTaskNotFound}
	publisher := &fakePublisher{}

	w := postWebhook(t, webhookRouter(store, publisher), succeededEvent("unknown", "https://x/a.mp4"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if len(publisher.published) != 0 {
		t.Errorf("published %d events for unknown task, want 0", len(publisher.published))
	}
}

func TestWebhookStoreFailure(t *testing.T) {
	store := &fakeResultStore{applyErr: errors.New("connection reset")}

	w := postWebhook(t, webhookRouter(store, &fakePublisher{}), succeededEvent("t1", "https://x/a.mp4"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 so the provider redelivers", w.Code)
	}
}

func TestWebhookPublishFailureStillAcks(t *testing.T) {
	store := &fakeResultStore{
		applied: true,
		video:   &videoctrl.AIVideo{TaskID: "t1", UserID: "u1"},
	}
	publisher := &fakePublisher{err: errors.New("broker unreachable")}

	w := postWebhook(t, webhookRouter(store, publisher), succeededEvent("t1", "https://x/a.mp4"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200; the row update is the authoritative ack", w.Code)
	}
}
