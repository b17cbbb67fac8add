package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

// Config holds rendering API client configuration
type Config struct {
	BaseURL           string
	APIKey            string
	StandardModel     string
	UnrestrictedModel string
	RequestTimeout    time.Duration
}

// Client submits rendering jobs to the remote service and queries their
// status. It performs no retries and persists nothing; both are the
// orchestrator's concern.
type Client struct {
	cfg    *Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a new rendering API client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// submitResponse covers the id accessor variants seen across backend
// versions: data.taskId, data.id, and a top-level taskId.
type submitResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	TaskID  string `json:"taskId"`
	Data    struct {
		TaskID string `json:"taskId"`
		ID     string `json:"id"`
	} `json:"data"`
}

func (r *submitResponse) taskID() string {
	for _, id := range []string{r.Data.TaskID, r.Data.ID, r.TaskID} {
		if id != "" {
			return id
		}
	}
	return ""
}

func (r *submitResponse) errorMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Msg
}

// Submit creates a rendering job and returns the task id the service
// assigned to it. A non-2xx response or an in-body error code yields a
// SubmissionError; a success response without a recognizable id yields a
// ProtocolError.
func (c *Client) Submit(ctx context.Context, req domain.RenderRequest) (string, error) {
	b := c.backendFor(req.Mode)

	input := map[string]any{
		"prompt": req.Prompt,
	}
	if req.OutputFormat != "" {
		input["output_format"] = req.OutputFormat
	}
	if req.AspectRatio != "" {
		input[b.sizeField] = req.AspectRatio
	}
	if len(req.ReferenceURLs) > 0 {
		input[b.imageField] = req.ReferenceURLs
	}

	body, err := json.Marshal(map[string]any{
		"model": b.model,
		"input": input,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit payload: %w", err)
	}

	url := c.cfg.BaseURL + "/jobs"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.Debug("Submitting rendering job",
		slog.String("model", b.model),
		slog.Int("reference_count", len(req.ReferenceURLs)),
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &domain.SubmissionError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.SubmissionError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	var decoded submitResponse
	// Some error responses carry no JSON body at all; the status code is
	// still enough to classify them.
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decoded.errorMessage()
		if msg == "" {
			msg = resp.Status
		}
		return "", &domain.SubmissionError{StatusCode: resp.StatusCode, Message: msg}
	}

	// The service signals some failures with a 2xx transport status and an
	// in-body error code.
	if decoded.Code != 0 && decoded.Code != 200 {
		msg := decoded.errorMessage()
		if msg == "" {
			msg = fmt.Sprintf("upstream error code %d", decoded.Code)
		}
		return "", &domain.SubmissionError{StatusCode: resp.StatusCode, Message: msg}
	}

	taskID := decoded.taskID()
	if taskID == "" {
		c.logger.Error("Submit response carried no task id",
			slog.String("body", string(raw)),
		)
		return "", &domain.ProtocolError{Reason: "no task id in submit response", Payload: string(raw)}
	}

	c.logger.Info("Rendering job created",
		slog.String("task_id", taskID),
		slog.String("model", b.model),
	)

	return taskID, nil
}

// Status fetches one status snapshot for a task. The task id travels as a
// path segment; the query-parameter form some deployments accept is aliased
// server-side. A 404 returns ErrTaskNotFound so the poller can count it
// against its budget instead of failing.
func (c *Client) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	url := c.cfg.BaseURL + "/jobs/" + taskID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrTaskNotFound
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status request returned %s", resp.Status)
	}

	return DecodeTaskStatus(raw)
}
