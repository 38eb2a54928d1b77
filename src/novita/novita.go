package novita

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	DefaultURL = "https://api.novita.ai/v3"

	// EventTypeAsyncTaskResult is the only event type the provider posts to
	// webhook targets.
	EventTypeAsyncTaskResult = "ASYNC_TASK_RESULT"
)

// GenerationRequest is the body of an async image-to-video submission.
type GenerationRequest struct {
	ImageURL string `json:"image_url"`
	Height   int    `json:"height"`
	Width    int    `json:"width"`
	Prompt   string `json:"prompt"`
	FastMode bool   `json:"fast_mode"`
	Extra    *Extra `json:"extra,omitempty"`
}

type Extra struct {
	Webhook *Webhook `json:"webhook,omitempty"`
}

type Webhook struct {
	URL string `json:"url"`
}

// GenerationResponse carries the provider-assigned task id.
type GenerationResponse struct {
	TaskID string `json:"task_id"`
}

type Task struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type Video struct {
	VideoURL string `json:"video_url"`
}

// TaskResult is the terminal (or in-progress) state of an async task. The
// same shape arrives as the payload of webhook events and as the response
// of the task-result query endpoint.
type TaskResult struct {
	Task   Task    `json:"task"`
	Videos []Video `json:"videos"`
}

// WebhookEvent is the envelope the provider delivers to webhook targets.
type WebhookEvent struct {
	EventType string     `json:"event_type"`
	Payload   TaskResult `json:"payload"`
}

// Client represents a novita.ai API client
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a new novita.ai API client for the given model
func NewClient(baseURL, apiKey, model string, c *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	return &Client{
		httpClient: c,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}
}

// SubmitVideoTask submits an async image-to-video generation job and
// returns the provider-assigned task id. The provider invokes req's webhook
// target once the task reaches a terminal state.
func (c *Client) SubmitVideoTask(ctx context.Context, genReq GenerationRequest) (string, error) {
	jsonData, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/async/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var genResp GenerationResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	if genResp.TaskID == "" {
		return "", fmt.Errorf("provider returned empty task id")
	}

	return genResp.TaskID, nil
}

// TaskResult queries the provider directly for the current state of a task.
// This is the direct-polling variant used for reconciling rows whose
// webhook never arrived.
func (c *Client) TaskResult(ctx context.Context, taskID string) (*TaskResult, error) {
	endpoint := fmt.Sprintf("%s/async/task-result?task_id=%s", c.baseURL, url.QueryEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var result TaskResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	return &result, nil
}
