package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
)

// DocumentStore persists the whole history as one opaque JSON document.
// Load returns (nil, nil) when no document has been saved yet.
type DocumentStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
}

// Config holds registry configuration
type Config struct {
	MaxSessions int
}

// Registry is the durable record of every session and job ever submitted.
// Every mutation rebuilds the affected session, truncates history to the
// retention cap, and writes the full document back, so a reader never
// observes a half-written record.
type Registry struct {
	mu          sync.Mutex
	sessions    []domain.Session // newest first
	store       DocumentStore
	maxSessions int
	logger      *slog.Logger
}

// Unresolved identifies a prompt whose job has a remote id but no terminal
// outcome. These are, by definition, presumed still in flight.
type Unresolved struct {
	PromptID string
	TaskID   string
}

type document struct {
	Sessions []domain.Session `json:"sessions"`
}

// New creates a new Registry instance
func New(store DocumentStore, cfg *Config, logger *slog.Logger) *Registry {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 10
	}
	return &Registry{
		store:       store,
		maxSessions: maxSessions,
		logger:      logger,
	}
}

// Restore loads the persisted history. A missing document is an empty
// history, not an error.
func (r *Registry) Restore(ctx context.Context) error {
	raw, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history document: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode history document: %w", err)
	}

	r.mu.Lock()
	r.sessions = doc.Sessions
	r.mu.Unlock()

	r.logger.Info("History restored",
		slog.Int("sessions", len(doc.Sessions)),
	)
	return nil
}

// AppendSession prepends a session and evicts the oldest beyond the cap.
func (r *Registry) AppendSession(ctx context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = append([]domain.Session{s}, r.sessions...)
	return r.persistLocked(ctx)
}

// Sessions returns a copy of the history, newest first.
func (r *Registry) Sessions() []domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Session returns one session by id.
func (r *Registry) Session(id string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

// FindPrompt returns one prompt record and the session that owns it.
func (r *Registry) FindPrompt(promptID string) (domain.PromptRecord, domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		for _, p := range s.Prompts {
			if p.ID == promptID {
				return p, s, nil
			}
		}
	}
	return domain.PromptRecord{}, domain.Session{}, domain.ErrPromptNotFound
}

// RecordSubmission attaches a freshly created job to a prompt, replacing any
// prior job wholesale. Old results or errors are discarded; only the latest
// attempt is kept.
func (r *Registry) RecordSubmission(ctx context.Context, promptID string, job domain.Job) error {
	return r.replacePrompt(ctx, promptID, func(rec domain.PromptRecord) domain.PromptRecord {
		rec.Job = &job
		return rec
	})
}

// RecordTransition applies one poll observation to a prompt's job. Terminal
// jobs ignore further observations.
func (r *Registry) RecordTransition(ctx context.Context, promptID string, u domain.Update) error {
	return r.replacePrompt(ctx, promptID, func(rec domain.PromptRecord) domain.PromptRecord {
		if rec.Job == nil {
			return rec
		}
		next := rec.Job.Apply(u)
		rec.Job = &next
		return rec
	})
}

// UnresolvedJobs scans for prompts whose job is non-terminal. This is the
// sole input to resumption after a restart.
func (r *Registry) UnresolvedJobs() []Unresolved {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Unresolved
	for _, s := range r.sessions {
		for _, p := range s.Prompts {
			if p.Job != nil && p.Job.RemoteID != "" && !p.Job.State.Terminal() {
				out = append(out, Unresolved{PromptID: p.ID, TaskID: p.Job.RemoteID})
			}
		}
	}
	return out
}

// DeleteSession removes a session and everything it owns.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]domain.Session, 0, len(r.sessions))
	found := false
	for _, s := range r.sessions {
		if s.ID == id {
			found = true
			continue
		}
		next = append(next, s)
	}
	if !found {
		return domain.ErrSessionNotFound
	}

	r.sessions = next
	return r.persistLocked(ctx)
}

// DeletePrompt removes one prompt record from its session.
func (r *Registry) DeletePrompt(ctx context.Context, promptID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for si, s := range r.sessions {
		for pi, p := range s.Prompts {
			if p.ID != promptID {
				continue
			}
			prompts := make([]domain.PromptRecord, 0, len(s.Prompts)-1)
			prompts = append(prompts, s.Prompts[:pi]...)
			prompts = append(prompts, s.Prompts[pi+1:]...)
			s.Prompts = prompts
			r.sessions[si] = s
			return r.persistLocked(ctx)
		}
	}
	return domain.ErrPromptNotFound
}

// replacePrompt rebuilds the session owning promptID with fn applied to the
// matching record, then persists the full document.
func (r *Registry) replacePrompt(ctx context.Context, promptID string, fn func(domain.PromptRecord) domain.PromptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for si, s := range r.sessions {
		for pi, p := range s.Prompts {
			if p.ID != promptID {
				continue
			}
			prompts := make([]domain.PromptRecord, len(s.Prompts))
			copy(prompts, s.Prompts)
			prompts[pi] = fn(p)
			s.Prompts = prompts
			r.sessions[si] = s
			return r.persistLocked(ctx)
		}
	}
	return domain.ErrPromptNotFound
}

// persistLocked truncates to the retention cap and writes the whole
// document back. Callers hold r.mu.
func (r *Registry) persistLocked(ctx context.Context) error {
	if len(r.sessions) > r.maxSessions {
		evicted := len(r.sessions) - r.maxSessions
		r.sessions = r.sessions[:r.maxSessions]
		r.logger.Debug("Evicted oldest sessions",
			slog.Int("evicted", evicted),
			slog.Int("retained", r.maxSessions),
		)
	}

	raw, err := json.Marshal(document{Sessions: r.sessions})
	if err != nil {
		return fmt.Errorf("failed to encode history document: %w", err)
	}
	if err := r.store.Save(ctx, raw); err != nil {
		return fmt.Errorf("failed to save history document: %w", err)
	}
	return nil
}
