package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"zoopixie/src/core/generation"
	"zoopixie/src/storage/postgres/videoctrl"
)

// GenerationService is the pipeline surface the handlers call into.
type GenerationService interface {
	Submit(ctx context.Context, imageBytes []byte, userID string) (string, error)
	AwaitResult(ctx context.Context, taskID string) (string, error)
}

// VideoReader is the read-only record store surface for status and gallery
// queries.
type VideoReader interface {
	GetByTaskID(ctx context.Context, taskID string) (*videoctrl.AIVideo, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]videoctrl.AIVideo, error)
}

type VideoHandler struct {
	generation GenerationService
	videos     VideoReader
}

func NewVideoHandler(generation GenerationService, videos VideoReader) *VideoHandler {
	return &VideoHandler{
		generation: generation,
		videos:     videos,
	}
}

// Submit accepts a drawing image and starts a generation job. The user id
// is taken as-is from the request; authentication happens at the gateway in
// front of this service.
func (h *VideoHandler) Submit(c *gin.Context) {
	userID := c.PostForm("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image uploaded"})
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only JPEG and PNG images are allowed"})
		return
	}

	imageBytes, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read image"})
		return
	}

	taskID, err := h.generation.Submit(c.Request.Context(), imageBytes, userID)
	if err != nil {
		var uploadErr *generation.UploadError
		var submissionErr *generation.SubmissionError
		switch {
		case errors.As(err, &uploadErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to upload drawing, please retry"})
		case errors.As(err, &submissionErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to start video generation, please retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start video generation, please retry"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task_id": taskID})
}

// Get returns the current record for a task. This is the endpoint the
// mobile client polls when it drives the poll loop itself.
func (h *VideoHandler) Get(c *gin.Context) {
	taskID := c.Param("task_id")

	video, err := h.videos.GetByTaskID(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get video"})
		return
	}
	if video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No video found for the provided task_id"})
		return
	}

	c.JSON(http.StatusOK, video)
}

// AwaitResult long-polls until the task reaches a terminal state or the
// poll deadline passes. The three outcomes are distinguishable to the
// client: success, terminal failure, timeout.
func (h *VideoHandler) AwaitResult(c *gin.Context) {
	taskID := c.Param("task_id")

	videoURL, err := h.generation.AwaitResult(c.Request.Context(), taskID)
	if err != nil {
		var failure *generation.TerminalFailure
		switch {
		case errors.As(err, &failure):
			c.JSON(http.StatusBadGateway, gin.H{
				"status": videoctrl.StatusFailed,
				"error":  "Video generation failed, please try again",
			})
		case errors.Is(err, generation.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Video generation timed out, please try again"})
		case errors.Is(err, context.Canceled):
			// Client went away; nothing left to answer.
			c.Abort()
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to await video result"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":   taskID,
		"status":    videoctrl.StatusSucceeded,
		"video_url": videoURL,
	})
}

// List returns a user's videos, newest first, for the gallery.
func (h *VideoHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id"})
		return
	}

	limit := 10
	offset := 0

	if limitParam := c.Query("limit"); limitParam != "" {
		if _, err := fmt.Sscanf(limitParam, "%d", &limit); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
	}

	if offsetParam := c.Query("offset"); offsetParam != "" {
		if _, err := fmt.Sscanf(offsetParam, "%d", &offset); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset parameter"})
			return
		}
	}

	videos, err := h.videos.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list videos"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"pagination": gin.H{
			"limit":  limit,
			"offset": offset,
		},
	})
}
