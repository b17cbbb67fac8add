package dto

import (
	"time"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

// ReferenceImageDTO is one inline reference image in a session request.
type ReferenceImageDTO struct {
	Base64   string `json:"base64" binding:"required"`
	MimeType string `json:"mime_type" binding:"required"`
}

type CreateSessionRequest struct {
	Mode          string              `json:"mode" binding:"required"`
	StyleImages   []ReferenceImageDTO `json:"style_images"`
	SubjectImages []ReferenceImageDTO `json:"subject_images"`
	PromptCount   int                 `json:"prompt_count"`
	CustomText    string              `json:"custom_text"`
}

type JobDTO struct {
	TaskID       string   `json:"task_id"`
	State        string   `json:"state"`
	ResultURLs   []string `json:"result_urls,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

type PromptDTO struct {
	PromptID       string  `json:"prompt_id"`
	Text           string  `json:"text"`
	ReferenceImage string  `json:"reference_image,omitempty"`
	Job            *JobDTO `json:"job,omitempty"`
}

type SessionDTO struct {
	SessionID   string      `json:"session_id"`
	Mode        string      `json:"mode"`
	CreatedAt   string      `json:"created_at"`
	StyleRefs   []string    `json:"style_refs,omitempty"`
	SubjectRefs []string    `json:"subject_refs,omitempty"`
	Prompts     []PromptDTO `json:"prompts"`
}

type ListSessionsResponse struct {
	Sessions []SessionDTO `json:"sessions"`
}

type RenderResponse struct {
	PromptID string `json:"prompt_id"`
	TaskID   string `json:"task_id"`
	State    string `json:"state"`
}

type RenderSessionResponse struct {
	SessionID string `json:"session_id"`
	Started   int    `json:"started"`
}

type UploadRequest struct {
	Base64   string `json:"base64" binding:"required"`
	MimeType string `json:"mime_type" binding:"required"`
}

type UploadResponse struct {
	URL string `json:"url"`
}

// FromSession maps a domain session onto its transport shape.
func FromSession(s domain.Session) SessionDTO {
	prompts := make([]PromptDTO, len(s.Prompts))
	for i, p := range s.Prompts {
		prompts[i] = FromPrompt(p)
	}
	return SessionDTO{
		SessionID:   s.ID,
		Mode:        string(s.Mode),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		StyleRefs:   s.StyleRefs,
		SubjectRefs: s.SubjectRefs,
		Prompts:     prompts,
	}
}

// FromPrompt maps a domain prompt record onto its transport shape.
func FromPrompt(p domain.PromptRecord) PromptDTO {
	dto := PromptDTO{
		PromptID:       p.ID,
		Text:           p.Text,
		ReferenceImage: p.ReferenceImage,
	}
	if p.Job != nil {
		dto.Job = &JobDTO{
			TaskID:       p.Job.RemoteID,
			State:        string(p.Job.State),
			ResultURLs:   p.Job.ResultURLs,
			ErrorMessage: p.Job.ErrorMessage,
			CreatedAt:    p.Job.CreatedAt.Format(time.RFC3339),
		}
	}
	return dto
}
