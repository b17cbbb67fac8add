package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prompt-alchemy/render-be/internal/api/dto"
	"github.com/prompt-alchemy/render-be/internal/prompts"
	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

const defaultPromptCount = 4

// CreateSession handles POST /api/v1/sessions
// Generates prompts from the supplied reference images and records the run.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	mode, err := parseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	count := req.PromptCount
	if count <= 0 {
		count = defaultPromptCount
	}

	generated, err := h.prompter.Generate(c.Request.Context(), prompts.Request{
		StyleImages:   toReferenceImages(req.StyleImages),
		SubjectImages: toReferenceImages(req.SubjectImages),
		Count:         count,
		Mode:          mode,
		CustomText:    req.CustomText,
	})
	if err != nil {
		h.logger.Error("Prompt generation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Prompt generation failed",
		})
		return
	}
	if len(generated) == 0 {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Prompt generation returned no prompts",
		})
		return
	}

	subjectRefs := h.uploadReferences(c, req.SubjectImages)
	styleRefs := h.uploadReferences(c, req.StyleImages)

	session := domain.Session{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Mode:        mode,
		StyleRefs:   compactRefs(styleRefs),
		SubjectRefs: compactRefs(subjectRefs),
		Prompts:     make([]domain.PromptRecord, 0, len(generated)),
	}
	for _, g := range generated {
		rec := domain.PromptRecord{
			ID:   uuid.New().String(),
			Text: g.Text,
		}
		// subjectRefs is positional, so prompt reference indexes stay
		// valid even when an earlier upload failed.
		if g.ReferenceIndex >= 0 && g.ReferenceIndex < len(subjectRefs) {
			rec.ReferenceImage = subjectRefs[g.ReferenceIndex]
		}
		session.Prompts = append(session.Prompts, rec)
	}

	if err := h.registry.AppendSession(c.Request.Context(), session); err != nil {
		h.logger.Error("Failed to record session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to record session",
		})
		return
	}

	h.logger.Info("Session created",
		slog.String("session_id", session.ID),
		slog.String("mode", string(mode)),
		slog.Int("prompts", len(session.Prompts)),
	)
	c.JSON(http.StatusCreated, dto.FromSession(session))
}

// ListSessions handles GET /api/v1/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions := h.registry.Sessions()

	out := make([]dto.SessionDTO, len(sessions))
	for i, s := range sessions {
		out[i] = dto.FromSession(s)
	}
	c.JSON(http.StatusOK, dto.ListSessionsResponse{Sessions: out})
}

// GetSession handles GET /api/v1/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.registry.Session(c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromSession(session))
}

// DeleteSession handles DELETE /api/v1/sessions/:session_id
// Any polls still running for the session are abandoned first.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	h.orchestrator.AbandonSession(sessionID)
	if err := h.registry.DeleteSession(c.Request.Context(), sessionID); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Session deleted", slog.String("session_id", sessionID))
	c.Status(http.StatusNoContent)
}

// RenderSession handles POST /api/v1/sessions/:session_id/render
// Fires renders for every eligible prompt in the session.
func (h *SessionHandler) RenderSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	started, err := h.orchestrator.RenderAll(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.RenderSessionResponse{
		SessionID: sessionID,
		Started:   started,
	})
}

// CancelSessionRenders handles POST /api/v1/sessions/:session_id/cancel
func (h *SessionHandler) CancelSessionRenders(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := h.registry.Session(sessionID); err != nil {
		h.respondError(c, err)
		return
	}

	h.orchestrator.AbandonSession(sessionID)
	c.Status(http.StatusNoContent)
}

// GetPrompt handles GET /api/v1/prompts/:prompt_id
func (h *SessionHandler) GetPrompt(c *gin.Context) {
	rec, _, err := h.registry.FindPrompt(c.Param("prompt_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromPrompt(rec))
}

// DeletePrompt handles DELETE /api/v1/prompts/:prompt_id
// An active poll for the prompt is abandoned; its eventual result would have
// no record to land in.
func (h *SessionHandler) DeletePrompt(c *gin.Context) {
	promptID := c.Param("prompt_id")

	h.orchestrator.Abandon(promptID)
	if err := h.registry.DeletePrompt(c.Request.Context(), promptID); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Prompt deleted", slog.String("prompt_id", promptID))
	c.Status(http.StatusNoContent)
}

// RenderPrompt handles POST /api/v1/prompts/:prompt_id/render
// Submits a rendering job for the prompt and starts polling it. A prompt with
// a render already in flight is rejected with 409.
func (h *SessionHandler) RenderPrompt(c *gin.Context) {
	promptID := c.Param("prompt_id")

	taskID, err := h.orchestrator.StartRender(c.Request.Context(), promptID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.RenderResponse{
		PromptID: promptID,
		TaskID:   taskID,
		State:    string(domain.JobStatePending),
	})
}

// CancelRender handles POST /api/v1/prompts/:prompt_id/cancel
// Stops the active poll for the prompt, if any. The remote job keeps running;
// only local tracking stops.
func (h *SessionHandler) CancelRender(c *gin.Context) {
	promptID := c.Param("prompt_id")
	if _, _, err := h.registry.FindPrompt(promptID); err != nil {
		h.respondError(c, err)
		return
	}

	h.orchestrator.Abandon(promptID)
	c.Status(http.StatusNoContent)
}

// Upload handles POST /api/v1/uploads
// Pushes one reference image to the hosting service and returns its public
// URL, for callers that need a URL before creating a session.
func (h *SessionHandler) Upload(c *gin.Context) {
	if h.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Image hosting is disabled",
		})
		return
	}

	var req dto.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Base64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Image payload is not valid base64",
		})
		return
	}

	filename := fmt.Sprintf("upload.%s", extensionFor(req.MimeType))
	url, err := h.uploader.Upload(c.Request.Context(), data, filename)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.UploadResponse{URL: url})
}

// respondError maps domain errors onto HTTP statuses.
func (h *SessionHandler) respondError(c *gin.Context, err error) {
	var inFlight *domain.JobInFlightError
	var submission *domain.SubmissionError

	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, domain.ErrPromptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Prompt not found"})
	case errors.As(err, &inFlight):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Render already in flight",
			"task_id": inFlight.TaskID,
		})
	case errors.As(err, &submission):
		h.logger.Error("Render submission rejected", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": submission.Message})
	case errors.Is(err, domain.ErrReferenceNotReady):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// uploadReferences pushes each reference to the image host. The returned
// slice has one slot per input image, in input order; a failed upload leaves
// its slot empty so the indexes the prompter handed back still point at the
// right image. A failed upload degrades that one reference; it never fails
// the session.
func (h *SessionHandler) uploadReferences(c *gin.Context, images []dto.ReferenceImageDTO) []string {
	if h.uploader == nil || len(images) == 0 {
		return nil
	}

	urls := make([]string, len(images))
	for i, img := range images {
		data, err := base64.StdEncoding.DecodeString(img.Base64)
		if err != nil {
			h.logger.Warn("Skipping undecodable reference image",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}

		filename := fmt.Sprintf("reference-%d.%s", i, extensionFor(img.MimeType))
		url, err := h.uploader.Upload(c.Request.Context(), data, filename)
		if err != nil {
			h.logger.Warn("Reference upload failed",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		urls[i] = url
	}
	return urls
}

// compactRefs drops the empty slots left by failed uploads; the session's
// reference lists feed render requests, which take URLs only.
func compactRefs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toReferenceImages(images []dto.ReferenceImageDTO) []prompts.ReferenceImage {
	out := make([]prompts.ReferenceImage, len(images))
	for i, img := range images {
		out[i] = prompts.ReferenceImage{
			Base64:   img.Base64,
			MimeType: img.MimeType,
		}
	}
	return out
}

func parseMode(raw string) (domain.GenerationMode, error) {
	switch mode := domain.GenerationMode(raw); mode {
	case domain.ModeMatchStyle, domain.ModeRandomCreative, domain.ModeCustomScene,
		domain.ModeCharacterSheet, domain.ModeNSFC:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown generation mode: %q", raw)
	}
}

func extensionFor(mimeType string) string {
	if ext, ok := strings.CutPrefix(mimeType, "image/"); ok && ext != "" {
		return ext
	}
	return "png"
}
