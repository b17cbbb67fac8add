package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

// memStore keeps the document in memory and remembers every save.
type memStore struct {
	doc   []byte
	saves int
}

func (s *memStore) Load(_ context.Context) ([]byte, error) {
	return s.doc, nil
}

func (s *memStore) Save(_ context.Context, doc []byte) error {
	s.doc = append([]byte(nil), doc...)
	s.saves++
	return nil
}

func newTestRegistry(maxSessions int) (*Registry, *memStore) {
	store := &memStore{}
	reg := New(store, &Config{MaxSessions: maxSessions}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return reg, store
}

func makeSession(id string, prompts ...domain.PromptRecord) domain.Session {
	return domain.Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Mode:      domain.ModeMatchStyle,
		Prompts:   prompts,
	}
}

func TestRegistry_AppendSession_NewestFirst(t *testing.T) {
	reg, store := newTestRegistry(10)
	ctx := context.Background()

	require.NoError(t, reg.AppendSession(ctx, makeSession("s1")))
	require.NoError(t, reg.AppendSession(ctx, makeSession("s2")))

	sessions := reg.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, "s1", sessions[1].ID)
	assert.Equal(t, 2, store.saves)
}

func TestRegistry_AppendSession_EvictsOldest(t *testing.T) {
	reg, store := newTestRegistry(2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, reg.AppendSession(ctx, makeSession(fmt.Sprintf("s%d", i))))
	}

	sessions := reg.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s3", sessions[0].ID)
	assert.Equal(t, "s2", sessions[1].ID)

	// The persisted document is already truncated, not just the view.
	var doc document
	require.NoError(t, json.Unmarshal(store.doc, &doc))
	require.Len(t, doc.Sessions, 2)
	assert.Equal(t, "s3", doc.Sessions[0].ID)
}

func TestRegistry_Restore(t *testing.T) {
	t.Run("empty store is empty history", func(t *testing.T) {
		reg, _ := newTestRegistry(10)
		require.NoError(t, reg.Restore(context.Background()))
		assert.Empty(t, reg.Sessions())
	})

	t.Run("round trip", func(t *testing.T) {
		first, store := newTestRegistry(10)
		ctx := context.Background()
		require.NoError(t, first.AppendSession(ctx, makeSession("s1", domain.PromptRecord{ID: "p1", Text: "a castle"})))

		second := New(store, &Config{MaxSessions: 10}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		require.NoError(t, second.Restore(ctx))

		rec, session, err := second.FindPrompt("p1")
		require.NoError(t, err)
		assert.Equal(t, "s1", session.ID)
		assert.Equal(t, "a castle", rec.Text)
	})
}

func TestRegistry_Lookups(t *testing.T) {
	reg, _ := newTestRegistry(10)
	ctx := context.Background()
	require.NoError(t, reg.AppendSession(ctx, makeSession("s1", domain.PromptRecord{ID: "p1"})))

	t.Run("session found", func(t *testing.T) {
		s, err := reg.Session("s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", s.ID)
	})

	t.Run("session not found", func(t *testing.T) {
		_, err := reg.Session("missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("prompt found", func(t *testing.T) {
		rec, session, err := reg.FindPrompt("p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", rec.ID)
		assert.Equal(t, "s1", session.ID)
	})

	t.Run("prompt not found", func(t *testing.T) {
		_, _, err := reg.FindPrompt("missing")
		assert.ErrorIs(t, err, domain.ErrPromptNotFound)
	})
}

func TestRegistry_RecordSubmission_ReplacesJobWholesale(t *testing.T) {
	reg, _ := newTestRegistry(10)
	ctx := context.Background()

	oldJob := &domain.Job{
		RemoteID:   "task-old",
		State:      domain.JobStateSucceeded,
		ResultURLs: []string{"https://cdn/old.png"},
	}
	require.NoError(t, reg.AppendSession(ctx, makeSession("s1", domain.PromptRecord{ID: "p1", Job: oldJob})))

	newJob := domain.Job{RemoteID: "task-new", State: domain.JobStatePending}
	require.NoError(t, reg.RecordSubmission(ctx, "p1", newJob))

	rec, _, err := reg.FindPrompt("p1")
	require.NoError(t, err)
	require.NotNil(t, rec.Job)
	assert.Equal(t, "task-new", rec.Job.RemoteID)
	assert.Equal(t, domain.JobStatePending, rec.Job.State)
	assert.Empty(t, rec.Job.ResultURLs, "prior result must be discarded")
}

func TestRegistry_RecordTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("applies observation", func(t *testing.T) {
		reg, _ := newTestRegistry(10)
		job := &domain.Job{RemoteID: "task-1", State: domain.JobStatePending}
		require.NoError(t, reg.AppendSession(ctx, makeSession("s1", domain.PromptRecord{ID: "p1", Job: job})))

		require.NoError(t, reg.RecordTransition(ctx, "p1", domain.Update{
			State:      domain.JobStateSucceeded,
			ResultURLs: []string{"https://cdn/a.png"},
		}))

		rec, _, err := reg.FindPrompt("p1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateSucceeded, rec.Job.State)
		assert.Equal(t, []string{"https://cdn/a.png"}, rec.Job.ResultURLs)
	})

	t.Run("terminal job ignores late observations", func(t *testing.T) {
		reg, _ := newTestRegistry(10)
		job := &domain.Job{RemoteID: "task-1", State: domain.JobStateFailed, ErrorMessage: "boom"}
		require.NoError(t, reg.AppendSession(ctx, makeSession("s1", domain.PromptRecord{ID: "p1", Job: job})))

		require.NoError(t, reg.RecordTransition(ctx, "p1", domain.Update{
			State:      domain.JobStateSucceeded,
			ResultURLs: []string{"https://cdn/late.png"},
		}))

		rec, _, err := reg.FindPrompt("p1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateFailed, rec.Job.State)
		assert.Equal(t, "boom", rec.Job.ErrorMessage)
		assert.Empty(t, rec.Job.ResultURLs)
	})

	t.Run("prompt without job is a no-op", func(t *testing.T) {
		reg, _ := newTestRegistry(10)
		require.NoError(t, reg.AppendSession(ctx, makeSession("s1", domain.PromptRecord{ID: "p1"})))

		require.NoError(t, reg.RecordTransition(ctx, "p1", domain.Update{State: domain.JobStateRunning}))

		rec, _, err := reg.FindPrompt("p1")
		require.NoError(t, err)
		assert.Nil(t, rec.Job)
	})
}

func TestRegistry_UnresolvedJobs(t *testing.T) {
	reg, _ := newTestRegistry(10)
	ctx := context.Background()

	require.NoError(t, reg.AppendSession(ctx, makeSession("s1",
		domain.PromptRecord{ID: "p1", Job: &domain.Job{RemoteID: "task-1", State: domain.JobStatePending}},
		domain.PromptRecord{ID: "p2", Job: &domain.Job{RemoteID: "task-2", State: domain.JobStateRunning}},
		domain.PromptRecord{ID: "p3", Job: &domain.Job{RemoteID: "task-3", State: domain.JobStateSucceeded}},
		domain.PromptRecord{ID: "p4", Job: &domain.Job{RemoteID: "task-4", State: domain.JobStateFailed}},
		domain.PromptRecord{ID: "p5", Job: &domain.Job{State: domain.JobStatePending}},
		domain.PromptRecord{ID: "p6"},
	)))

	unresolved := reg.UnresolvedJobs()
	require.Len(t, unresolved, 2)
	assert.Equal(t, Unresolved{PromptID: "p1", TaskID: "task-1"}, unresolved[0])
	assert.Equal(t, Unresolved{PromptID: "p2", TaskID: "task-2"}, unresolved[1])
}

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("delete session", func(t *testing.T) {
		reg, _ := newTestRegistry(10)
		require.NoError(t, reg.AppendSession(ctx, makeSession("s1")))

		require.NoError(t, reg.DeleteSession(ctx, "s1"))
		assert.Empty(t, reg.Sessions())

		assert.ErrorIs(t, reg.DeleteSession(ctx, "s1"), domain.ErrSessionNotFound)
	})

	t.Run("delete prompt", func(t *testing.T) {
		reg, _ := newTestRegistry(10)
		require.NoError(t, reg.AppendSession(ctx, makeSession("s1",
			domain.PromptRecord{ID: "p1"},
			domain.PromptRecord{ID: "p2"},
		)))

		require.NoError(t, reg.DeletePrompt(ctx, "p1"))

		session, err := reg.Session("s1")
		require.NoError(t, err)
		require.Len(t, session.Prompts, 1)
		assert.Equal(t, "p2", session.Prompts[0].ID)

		assert.ErrorIs(t, reg.DeletePrompt(ctx, "p1"), domain.ErrPromptNotFound)
	})
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "doc.json")
	store := NewFileStore(path)
	ctx := context.Background()

	t.Run("missing file loads as empty", func(t *testing.T) {
		raw, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, raw)
	})

	t.Run("save then load", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, []byte(`{"sessions":[]}`)))

		raw, err := store.Load(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"sessions":[]}`, string(raw))
	})

	t.Run("save replaces atomically", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, []byte(`{"sessions":[{"id":"s1","created_at":"2026-01-01T00:00:00Z","mode":"match_style","prompts":[]}]}`)))

		raw, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"s1"`)
	})
}
