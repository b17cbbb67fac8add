package domain

import "time"

// JobState is the lifecycle state of a remote rendering job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// InFlight reports whether the job is still being processed remotely.
func (s JobState) InFlight() bool {
	return s == JobStatePending || s == JobStateRunning
}

// GenerationMode selects the prompt style and, for ModeNSFC, the
// unrestricted rendering backend.
type GenerationMode string

const (
	ModeMatchStyle     GenerationMode = "match_style"
	ModeRandomCreative GenerationMode = "random_creative"
	ModeCustomScene    GenerationMode = "custom_scene"
	ModeCharacterSheet GenerationMode = "character_sheet"
	ModeNSFC           GenerationMode = "nsfc"
)

// RenderRequest is the immutable payload a job was created with.
type RenderRequest struct {
	Prompt        string         `json:"prompt"`
	ReferenceURLs []string       `json:"reference_urls,omitempty"`
	AspectRatio   string         `json:"aspect_ratio,omitempty"`
	OutputFormat  string         `json:"output_format,omitempty"`
	Mode          GenerationMode `json:"mode,omitempty"`
}

// Job is one remote asynchronous rendering request and its tracked outcome.
// RemoteID is assigned by the rendering service exactly once, at submission.
type Job struct {
	RemoteID     string        `json:"remote_id"`
	Request      RenderRequest `json:"request"`
	State        JobState      `json:"state"`
	ResultURLs   []string      `json:"result_urls,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Update is one observation reported by a status poll.
type Update struct {
	State      JobState `json:"state"`
	ResultURLs []string `json:"result_urls,omitempty"`
	Message    string   `json:"message,omitempty"`

	// Err carries the typed poll error for logging; it is never persisted.
	Err error `json:"-"`
}

// Apply reduces a job and a poll update to the next job state. It is a pure
// function: terminal jobs are never resurrected, result URLs are set only on
// success, the error message only on failure, and the two never coexist.
func (j Job) Apply(u Update) Job {
	if j.State.Terminal() {
		return j
	}
	switch u.State {
	case JobStateSucceeded:
		j.State = JobStateSucceeded
		j.ResultURLs = u.ResultURLs
		j.ErrorMessage = ""
	case JobStateFailed:
		j.State = JobStateFailed
		j.ErrorMessage = u.Message
		if j.ErrorMessage == "" {
			j.ErrorMessage = "generation failed"
		}
		j.ResultURLs = nil
	case JobStateRunning:
		j.State = JobStateRunning
	default:
		j.State = JobStatePending
	}
	return j
}

// PromptRecord is one generated prompt and its at-most-one rendering job.
// A re-render replaces the job wholesale; only the latest attempt is kept.
type PromptRecord struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	ReferenceImage string `json:"reference_image,omitempty"`
	Job            *Job   `json:"job,omitempty"`
}

// Session is one generation run: the reference images it was produced from
// and the prompts it yielded.
type Session struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Mode        GenerationMode `json:"mode"`
	StyleRefs   []string       `json:"style_refs,omitempty"`
	SubjectRefs []string       `json:"subject_refs,omitempty"`
	Prompts     []PromptRecord `json:"prompts"`
}
