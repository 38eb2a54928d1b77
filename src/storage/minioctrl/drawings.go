package minioctrl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DrawingStore uploads raw drawing images into a public bucket, one object
// per upload, namespaced under the owning user's id.
type DrawingStore struct {
	minio  *MinioService
	bucket string
}

func NewDrawingStore(minio *MinioService, bucket string) *DrawingStore {
	return &DrawingStore{
		minio:  minio,
		bucket: bucket,
	}
}

// Upload stores imageBytes and returns the public URL of the new object.
// No retry is performed here; retry policy belongs to the caller.
func (s *DrawingStore) Upload(ctx context.Context, imageBytes []byte, userID string) (string, error) {
	contentType, ext := drawingContentType(imageBytes)
	objectName := drawingObjectName(userID, time.Now(), uuid.New().String(), ext)

	err := s.minio.PutObject(ctx, s.bucket, objectName, imageBytes, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload drawing: %w", err)
	}

	return s.minio.PublicURL(s.bucket, objectName), nil
}

// drawingContentType sniffs the payload rather than trusting the client's
// filename. Uploads are JPEG or PNG; anything unrecognized is stored as
// JPEG, which is what the capture flow produces.
func drawingContentType(imageBytes []byte) (contentType, ext string) {
	if http.DetectContentType(imageBytes) == "image/png" {
		return "image/png", ".png"
	}
	return "image/jpeg", ".jpg"
}

// drawingObjectName builds a collision-resistant object path. Timestamp plus
// a random suffix keeps concurrent uploads from the same user from
// overwriting each other.
func drawingObjectName(userID string, now time.Time, suffix, ext string) string {
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s/%d-%s%s", userID, now.UnixMilli(), suffix, ext)
}
