package kie

import (
	"encoding/json"
	"strings"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

// taskPayload is the loosely specified shape of a task status body. Field
// names and nesting differ between backends and API versions, so everything
// is optional and resolution happens in ordered fallbacks.
type taskPayload struct {
	State      string          `json:"state"`
	Status     string          `json:"status"`
	FailMsg    string          `json:"failMsg"`
	FailReason string          `json:"failReason"`
	ErrorMsg   string          `json:"error"`
	ResultJSON string          `json:"resultJson"`
	Result     json.RawMessage `json:"result"`
	ImageURL   string          `json:"imageUrl"`
	ResultURL  string          `json:"resultUrl"`
}

// resultList covers the key names under which the result array has been
// observed.
type resultList struct {
	ResultURLs []string `json:"resultUrls"`
	URLs       []string `json:"urls"`
	Images     []string `json:"images"`
}

func (r resultList) first() []string {
	switch {
	case len(r.ResultURLs) > 0:
		return r.ResultURLs
	case len(r.URLs) > 0:
		return r.URLs
	case len(r.Images) > 0:
		return r.Images
	}
	return nil
}

// TaskStatus is one decoded status snapshot.
type TaskStatus struct {
	task taskPayload
	raw  []byte
}

// DecodeTaskStatus parses a status response body. The task object sits under
// a "data" envelope on some backends and at the top level on others.
func DecodeTaskStatus(body []byte) (*TaskStatus, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &domain.ProtocolError{Reason: "status response is not valid JSON", Payload: string(body)}
	}

	task := body
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" && envelope.Data[0] == '{' {
		task = envelope.Data
	}

	var payload taskPayload
	if err := json.Unmarshal(task, &payload); err != nil {
		return nil, &domain.ProtocolError{Reason: "task payload is not a JSON object", Payload: string(body)}
	}

	return &TaskStatus{task: payload, raw: body}, nil
}

// RawState returns the upstream state string, whichever field carried it.
func (t *TaskStatus) RawState() string {
	if t.task.State != "" {
		return t.task.State
	}
	return t.task.Status
}

// State classifies the snapshot into a lifecycle state.
func (t *TaskStatus) State() domain.JobState {
	return ClassifyState(t.RawState())
}

// FailMessage returns the upstream failure message, or empty if none was given.
func (t *TaskStatus) FailMessage() string {
	for _, m := range []string{t.task.FailMsg, t.task.FailReason, t.task.ErrorMsg} {
		if m != "" {
			return m
		}
	}
	return ""
}

// Raw returns the undecoded response body for diagnostics.
func (t *TaskStatus) Raw() []byte {
	return t.raw
}

// ResultURLs extracts the produced artifact URLs. Fallback order:
//
//  1. a string-typed resultJson field parsed as nested JSON
//  2. the result object's array field read directly
//  3. a singular imageUrl / resultUrl scalar
//
// The second return is false when no usable URL was found under any
// accessor. The function is pure: calling it twice yields the same answer.
func (t *TaskStatus) ResultURLs() ([]string, bool) {
	if t.task.ResultJSON != "" {
		var nested resultList
		if err := json.Unmarshal([]byte(t.task.ResultJSON), &nested); err == nil {
			if urls := nested.first(); len(urls) > 0 {
				return urls, true
			}
		}
	}

	if len(t.task.Result) > 0 && t.task.Result[0] == '{' {
		var nested resultList
		if err := json.Unmarshal(t.task.Result, &nested); err == nil {
			if urls := nested.first(); len(urls) > 0 {
				return urls, true
			}
		}
	}

	if t.task.ImageURL != "" {
		return []string{t.task.ImageURL}, true
	}
	if t.task.ResultURL != "" {
		return []string{t.task.ResultURL}, true
	}

	return nil, false
}

// ClassifyState maps the remote service's state vocabulary onto the
// lifecycle states. Matching is case-insensitive and anything unrecognized,
// including an absent state, counts as pending so polling continues.
func ClassifyState(raw string) domain.JobState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "completed", "complete":
		return domain.JobStateSucceeded
	case "fail", "failed", "error":
		return domain.JobStateFailed
	case "running", "generating", "processing", "queuing":
		return domain.JobStateRunning
	default:
		return domain.JobStatePending
	}
}
