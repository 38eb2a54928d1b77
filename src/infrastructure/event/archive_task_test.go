package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	"zoopixie/src/infrastructure/event"
	"zoopixie/src/storage/postgres/videoctrl"
)

type storedObject struct {
	bucket      string
	object      string
	data        []byte
	contentType string
}

type fakeArchiveStore struct {
	putErr error
	stored []storedObject
}

func (f *fakeArchiveStore) PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.stored = append(f.stored, storedObject{bucket: bucketName, object: objectName, data: data, contentType: contentType})
	return nil
}

func (f *fakeArchiveStore) PublicURL(bucketName, objectName string) string {
	return "http://cdn/" + bucketName + "/" + objectName
}

type fakeRecorder struct {
	err      error
	recorded map[string]string
}

func (f *fakeRecorder) SetArchiveURL(ctx context.Context, taskID, archiveURL string) error {
	if f.err != nil {
		return f.err
	}
	if f.recorded == nil {
		f.recorded = make(map[string]string)
	}
	f.recorded[taskID] = archiveURL
	return nil
}

func resultMessage(t *testing.T, resultMsg event.VideoResultMessage) *message.Message {
	t.Helper()
	payload, err := json.Marshal(resultMsg)
	if err != nil {
		t.Fatal(err)
	}
	return message.NewMessage("m1", payload)
}

func TestHandleVideoResultArchives(t *testing.T) {
	videoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4 bytes"))
	}))
	defer videoServer.Close()

	store := &fakeArchiveStore{}
	recorder := &fakeRecorder{}
	task := event.NewArchiveTask(videoServer.Client(), store, recorder, "videos")

	err := task.HandleVideoResult(resultMessage(t, event.VideoResultMessage{
		TaskID:   "t1",
		UserID:   "u1",
		VideoURL: videoServer.URL + "/a.mp4",
	}))
	if err != nil {
		t.Fatalf("HandleVideoResult() error = %v", err)
	}

	if len(store.stored) != 1 {
		t.Fatalf("stored %d objects, want 1", len(store.stored))
	}
	obj := store.stored[0]
	if obj.bucket != "videos" || obj.object != "u1/t1.mp4" || obj.contentType != "video/mp4" {
		t.Errorf("stored object = %+v", obj)
	}
	if string(obj.data) != "mp4 bytes" {
		t.Errorf("stored data = %q", obj.data)
	}
	if recorder.recorded["t1"] != "http://cdn/videos/u1/t1.mp4" {
		t.Errorf("recorded archive url = %q", recorder.recorded["t1"])
	}
}

func TestHandleVideoResultDownloadFailureRequeues(t *testing.T) {
	videoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer videoServer.Close()

	task := event.NewArchiveTask(videoServer.Client(), &fakeArchiveStore{}, &fakeRecorder{}, "videos")

	err := task.HandleVideoResult(resultMessage(t, event.VideoResultMessage{
		TaskID:   "t1",
		UserID:   "u1",
		VideoURL: videoServer.URL + "/a.mp4",
	}))
	if err == nil {
		t.Error("HandleVideoResult() error = nil, want error so the message requeues")
	}
}

func TestHandleVideoResultUnknownTaskDropped(t *testing.T) {
	videoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4 bytes"))
	}))
	defer videoServer.Close()

	recorder := &fakeRecorder{err: videoctrl.ErrTaskNotFound}
	task := event.NewArchiveTask(videoServer.Client(), &fakeArchiveStore{}, recorder, "videos")

	err := task.HandleVideoResult(resultMessage(t, event.VideoResultMessage{
		TaskID:   "orphan",
		UserID:   "u1",
		VideoURL: videoServer.URL + "/a.mp4",
	}))
	if err != nil {
		t.Errorf("HandleVideoResult() error = %v, want orphan dropped without requeue", err)
	}
}

func TestHandleVideoResultStoreFailureRequeues(t *testing.T) {
	videoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4 bytes"))
	}))
	defer videoServer.Close()

	store := &fakeArchiveStore{putErr: errors.New("minio unreachable")}
	task := event.NewArchiveTask(videoServer.Client(), store, &fakeRecorder{}, "videos")

	err := task.HandleVideoResult(resultMessage(t, event.VideoResultMessage{
		TaskID:   "t1",
		UserID:   "u1",
		VideoURL: videoServer.URL + "/a.mp4",
	}))
	if err == nil {
		t.Error("HandleVideoResult() error = nil, want error so the message requeues")
	}
}

func TestHandleVideoResultSkipsEmptyURL(t *testing.T) {
	store := &fakeArchiveStore{}
	task := event.NewArchiveTask(http.DefaultClient, store, &fakeRecorder{}, "videos")

	err := task.HandleVideoResult(resultMessage(t, event.VideoResultMessage{TaskID: "t1", UserID: "u1"}))
	if err != nil {
		t.Errorf("HandleVideoResult() error = %v, want skip", err)
	}
	if len(store.stored) != 0 {
		t.Errorf("stored %d objects, want 0", len(store.stored))
	}
}
