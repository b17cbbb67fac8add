package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
	"github.com/prompt-alchemy/render-be/internal/render/kie"
)

// scriptedClient returns one scripted response per call, repeating the last
// entry once the script runs out.
type scriptedClient struct {
	script []scriptedResponse
	calls  int
}

type scriptedResponse struct {
	body string
	err  error
}

func (c *scriptedClient) Status(_ context.Context, _ string) (*kie.TaskStatus, error) {
	idx := c.calls
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	c.calls++

	entry := c.script[idx]
	if entry.err != nil {
		return nil, entry.err
	}
	return kie.DecodeTaskStatus([]byte(entry.body))
}

func newTestPoller(client StatusClient, maxAttempts int) *Poller {
	return New(client, &Config{
		Interval:    time.Millisecond,
		MaxAttempts: maxAttempts,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func collect(t *testing.T, updates <-chan domain.Update) []domain.Update {
	t.Helper()

	var out []domain.Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-timeout:
			t.Fatal("poll sequence did not finish")
		}
	}
}

func TestPoller_Poll_SucceedsAfterProgress(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{body: `{"data":{"state":"waiting"}}`},
		{body: `{"data":{"state":"generating"}}`},
		{body: `{"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/a.png\"]}"}}`},
	}}

	updates := collect(t, newTestPoller(client, 10).Poll(context.Background(), "task-1"))

	require.Len(t, updates, 3)
	assert.Equal(t, domain.JobStatePending, updates[0].State)
	assert.Equal(t, domain.JobStateRunning, updates[1].State)
	assert.Equal(t, domain.JobStateSucceeded, updates[2].State)
	assert.Equal(t, []string{"https://cdn/a.png"}, updates[2].ResultURLs)
	assert.Equal(t, 3, client.calls)
}

func TestPoller_Poll_FailureCarriesMessage(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{body: `{"data":{"state":"fail","failMsg":"content flagged"}}`},
	}}

	updates := collect(t, newTestPoller(client, 10).Poll(context.Background(), "task-1"))

	require.Len(t, updates, 1)
	assert.Equal(t, domain.JobStateFailed, updates[0].State)
	assert.Equal(t, "content flagged", updates[0].Message)
}

func TestPoller_Poll_SuccessWithoutResultIsFailure(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{body: `{"data":{"state":"success"}}`},
	}}

	updates := collect(t, newTestPoller(client, 10).Poll(context.Background(), "task-1"))

	require.Len(t, updates, 1)
	assert.Equal(t, domain.JobStateFailed, updates[0].State)
	assert.Equal(t, "generation finished but returned no image", updates[0].Message)

	var missing *domain.ResultMissingError
	require.ErrorAs(t, updates[0].Err, &missing)
	assert.Equal(t, "task-1", missing.TaskID)
}

func TestPoller_Poll_NotFoundCountsAgainstBudget(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{err: domain.ErrTaskNotFound},
	}}

	updates := collect(t, newTestPoller(client, 3).Poll(context.Background(), "task-1"))

	require.Len(t, updates, 4)
	for _, u := range updates[:3] {
		assert.Equal(t, domain.JobStatePending, u.State)
		assert.NoError(t, u.Err)
	}

	last := updates[3]
	assert.Equal(t, domain.JobStateFailed, last.State)
	assert.Equal(t, "still processing on the server, check back later and retry", last.Message)

	var timeout *domain.TimeoutError
	require.ErrorAs(t, last.Err, &timeout)
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, 3, client.calls)
}

func TestPoller_Poll_TransientErrorKeepsPolling(t *testing.T) {
	transient := errors.New("connection reset")
	client := &scriptedClient{script: []scriptedResponse{
		{err: transient},
		{body: `{"data":{"state":"success","imageUrl":"https://cdn/b.png"}}`},
	}}

	updates := collect(t, newTestPoller(client, 10).Poll(context.Background(), "task-1"))

	require.Len(t, updates, 2)
	assert.Equal(t, domain.JobStatePending, updates[0].State)
	assert.ErrorIs(t, updates[0].Err, transient)
	assert.Equal(t, domain.JobStateSucceeded, updates[1].State)
}

func TestPoller_Poll_CancellationEndsSequence(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{body: `{"data":{"state":"running"}}`},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	updates := newTestPoller(client, 1000).Poll(ctx, "task-1")

	// Drain a couple of observations, then cancel mid-flight.
	<-updates
	<-updates
	cancel()

	for u := range updates {
		assert.False(t, u.State.Terminal(), "cancellation must not produce a terminal observation")
	}
}
