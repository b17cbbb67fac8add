package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

// Config holds image hosting client configuration
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// Client uploads raw image bytes and returns a publicly reachable URL. The
// rendering backends only accept URL-addressable references, not inline
// data.
type Client struct {
	cfg    *Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a new image hosting client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type uploadResponse struct {
	URL  string `json:"url"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Upload pushes one image and returns its public URL. Any failure is wrapped
// in ErrReferenceNotReady: an unreachable reference degrades one prompt, it
// never blocks the session.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrReferenceNotReady, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrReferenceNotReady, err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrReferenceNotReady, err)
	}

	url := c.cfg.BaseURL + "/upload"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrReferenceNotReady, err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrReferenceNotReady, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrReferenceNotReady, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Image upload rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return "", fmt.Errorf("%w: upload returned %s", domain.ErrReferenceNotReady, resp.Status)
	}

	var decoded uploadResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrReferenceNotReady, err)
	}

	publicURL := decoded.URL
	if publicURL == "" {
		publicURL = decoded.Data.URL
	}
	if publicURL == "" {
		return "", fmt.Errorf("%w: upload response carried no url", domain.ErrReferenceNotReady)
	}

	c.logger.Debug("Image uploaded",
		slog.String("url", publicURL),
		slog.Int("bytes", len(data)),
	)
	return publicURL, nil
}
