package kie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

func TestDecodeTaskStatus_Envelope(t *testing.T) {
	t.Run("task under data envelope", func(t *testing.T) {
		status, err := DecodeTaskStatus([]byte(`{"code":200,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/a.png\"]}"}}`))
		require.NoError(t, err)

		assert.Equal(t, domain.JobStateSucceeded, status.State())
		urls, ok := status.ResultURLs()
		assert.True(t, ok)
		assert.Equal(t, []string{"https://cdn/a.png"}, urls)
	})

	t.Run("task at top level", func(t *testing.T) {
		status, err := DecodeTaskStatus([]byte(`{"state":"running"}`))
		require.NoError(t, err)

		assert.Equal(t, domain.JobStateRunning, status.State())
	})

	t.Run("null data falls back to top level", func(t *testing.T) {
		status, err := DecodeTaskStatus([]byte(`{"data":null,"status":"queuing"}`))
		require.NoError(t, err)

		assert.Equal(t, domain.JobStateRunning, status.State())
	})

	t.Run("invalid json is a protocol error", func(t *testing.T) {
		_, err := DecodeTaskStatus([]byte(`not json`))

		var perr *domain.ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

func TestTaskStatus_ResultURLs(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantURLs []string
		wantOK   bool
	}{
		{
			name:     "resultJson string wins",
			body:     `{"state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/a.png\",\"https://cdn/b.png\"]}","imageUrl":"https://cdn/ignored.png"}`,
			wantURLs: []string{"https://cdn/a.png", "https://cdn/b.png"},
			wantOK:   true,
		},
		{
			name:     "result object read directly",
			body:     `{"state":"success","result":{"urls":["https://cdn/c.png"]}}`,
			wantURLs: []string{"https://cdn/c.png"},
			wantOK:   true,
		},
		{
			name:     "result object images key",
			body:     `{"state":"success","result":{"images":["https://cdn/d.png"]}}`,
			wantURLs: []string{"https://cdn/d.png"},
			wantOK:   true,
		},
		{
			name:     "imageUrl scalar fallback",
			body:     `{"state":"success","imageUrl":"https://cdn/e.png"}`,
			wantURLs: []string{"https://cdn/e.png"},
			wantOK:   true,
		},
		{
			name:     "resultUrl scalar fallback",
			body:     `{"state":"success","resultUrl":"https://cdn/f.png"}`,
			wantURLs: []string{"https://cdn/f.png"},
			wantOK:   true,
		},
		{
			name:     "malformed resultJson falls through to scalar",
			body:     `{"state":"success","resultJson":"{broken","imageUrl":"https://cdn/g.png"}`,
			wantURLs: []string{"https://cdn/g.png"},
			wantOK:   true,
		},
		{
			name:   "empty result under every accessor",
			body:   `{"state":"success","resultJson":"{\"resultUrls\":[]}","result":{}}`,
			wantOK: false,
		},
		{
			name:   "no result fields at all",
			body:   `{"state":"success"}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := DecodeTaskStatus([]byte(tt.body))
			require.NoError(t, err)

			urls, ok := status.ResultURLs()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantURLs, urls)

			// Extraction must not consume anything.
			again, okAgain := status.ResultURLs()
			assert.Equal(t, ok, okAgain)
			assert.Equal(t, urls, again)
		})
	}
}

func TestTaskStatus_FailMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "failMsg preferred",
			body: `{"state":"fail","failMsg":"flagged","failReason":"other","error":"ignored"}`,
			want: "flagged",
		},
		{
			name: "failReason next",
			body: `{"state":"fail","failReason":"quota exceeded"}`,
			want: "quota exceeded",
		},
		{
			name: "error last",
			body: `{"state":"fail","error":"internal"}`,
			want: "internal",
		},
		{
			name: "no message",
			body: `{"state":"fail"}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := DecodeTaskStatus([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.FailMessage())
		})
	}
}

func TestClassifyState(t *testing.T) {
	tests := []struct {
		raw  string
		want domain.JobState
	}{
		{"success", domain.JobStateSucceeded},
		{"SUCCESS", domain.JobStateSucceeded},
		{"succeeded", domain.JobStateSucceeded},
		{"completed", domain.JobStateSucceeded},
		{"complete", domain.JobStateSucceeded},
		{"fail", domain.JobStateFailed},
		{"failed", domain.JobStateFailed},
		{"error", domain.JobStateFailed},
		{"running", domain.JobStateRunning},
		{"generating", domain.JobStateRunning},
		{"processing", domain.JobStateRunning},
		{"queuing", domain.JobStateRunning},
		{" Running ", domain.JobStateRunning},
		{"", domain.JobStatePending},
		{"waiting", domain.JobStatePending},
	}

	for _, tt := range tests {
		t.Run("state "+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyState(tt.raw))
		})
	}
}
