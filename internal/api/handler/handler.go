package handler

import (
	"context"
	"log/slog"

	"github.com/prompt-alchemy/render-be/internal/prompts"
	"github.com/prompt-alchemy/render-be/internal/render/registry"
)

// PromptGenerator produces prompts from reference images.
type PromptGenerator interface {
	Generate(ctx context.Context, req prompts.Request) ([]prompts.GeneratedPrompt, error)
}

// ImageUploader turns raw image bytes into a publicly reachable URL.
type ImageUploader interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// RenderCoordinator drives the rendering lifecycle for prompts and sessions.
type RenderCoordinator interface {
	StartRender(ctx context.Context, promptID string) (string, error)
	RenderAll(ctx context.Context, sessionID string) (int, error)
	Abandon(promptID string)
	AbandonSession(sessionID string)
	Active(promptID string) bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Registry     *registry.Registry
	Orchestrator RenderCoordinator
	Prompter     PromptGenerator
	Uploader     ImageUploader // nil when image hosting is disabled
}

// SessionHandler handles session and render HTTP requests
type SessionHandler struct {
	logger       *slog.Logger
	registry     *registry.Registry
	orchestrator RenderCoordinator
	prompter     PromptGenerator
	uploader     ImageUploader
}

// NewSessionHandler creates a new SessionHandler instance
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	return &SessionHandler{
		logger:       deps.Logger,
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		prompter:     deps.Prompter,
		uploader:     deps.Uploader,
	}
}
