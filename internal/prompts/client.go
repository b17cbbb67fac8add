package prompts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

// Config holds prompt generation client configuration
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	RequestTimeout time.Duration
}

// ReferenceImage is one inline reference handed to the vision model.
type ReferenceImage struct {
	Base64   string
	MimeType string
}

// Request describes one generation run.
type Request struct {
	StyleImages   []ReferenceImage
	SubjectImages []ReferenceImage
	Count         int
	Mode          domain.GenerationMode
	CustomText    string
}

// GeneratedPrompt is one prompt, keyed to the reference image that
// produced it.
type GeneratedPrompt struct {
	Text           string
	ReferenceIndex int
}

// Client calls the prompt generation service: one stateless request, one
// structured response. No retries, no interpretation of the model's
// reasoning.
type Client struct {
	cfg    *Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a new prompt generation client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

const systemInstruction = `You are an expert prompt engineer for high-end AI image generators.
For EACH reference image provided, generate the requested number of highly detailed visual prompts.
If the mode is character_sheet, describe the person's figure, outfit, and facial features and request "split-view, multiple angles, front, side, and back views, consistent character design, full body".
Respond ONLY with a valid JSON object: {"results": [{"imageIndex": 0, "prompts": ["...", "..."]}]}`

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLValue `json:"image_url,omitempty"`
}

type imageURLValue struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type promptResults struct {
	Results []struct {
		ImageIndex int      `json:"imageIndex"`
		Prompts    []string `json:"prompts"`
	} `json:"results"`
}

// Generate asks the vision model for prompts. The returned prompts carry the
// index of the reference that produced them: style references in match_style
// mode, subject references otherwise.
func (c *Client) Generate(ctx context.Context, req Request) ([]GeneratedPrompt, error) {
	parts := []contentPart{{
		Type: "text",
		Text: c.userText(req),
	}}
	for _, img := range req.StyleImages {
		parts = append(parts, imagePart(img))
	}
	for _, img := range req.SubjectImages {
		parts = append(parts, imagePart(img))
	}

	body, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"messages": []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: parts},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     c.temperature(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation payload: %w", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.Info("Requesting prompt generation",
		slog.String("mode", string(req.Mode)),
		slog.Int("count", req.Count),
		slog.Int("style_images", len(req.StyleImages)),
		slog.Int("subject_images", len(req.SubjectImages)),
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		if decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, fmt.Errorf("generation request returned error: %s", msg)
	}

	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("generation response carried no choices")
	}

	var results promptResults
	if err := json.Unmarshal([]byte(decoded.Choices[0].Message.Content), &results); err != nil {
		return nil, fmt.Errorf("failed to parse generated prompts: %w", err)
	}

	var out []GeneratedPrompt
	for _, r := range results.Results {
		for _, p := range r.Prompts {
			out = append(out, GeneratedPrompt{Text: p, ReferenceIndex: r.ImageIndex})
		}
	}

	c.logger.Info("Prompts generated",
		slog.Int("prompts", len(out)),
	)
	return out, nil
}

func (c *Client) userText(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s. Count: %d. ", req.Mode, req.Count)
	if req.CustomText != "" {
		fmt.Fprintf(&b, "Context: %q. ", req.CustomText)
	}
	b.WriteString("Ensure the output is JSON.")
	return b.String()
}

func (c *Client) temperature() float64 {
	if c.cfg.Temperature > 0 {
		return c.cfg.Temperature
	}
	return 0.7
}

func imagePart(img ReferenceImage) contentPart {
	return contentPart{
		Type: "image_url",
		ImageURL: &imageURLValue{
			URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Base64),
		},
	}
}
