package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prompt-alchemy/render-be/internal/events"
	"github.com/prompt-alchemy/render-be/internal/render/domain"
	"github.com/prompt-alchemy/render-be/internal/render/registry"
)

// Submitter creates a remote rendering job and returns its task id.
type Submitter interface {
	Submit(ctx context.Context, req domain.RenderRequest) (string, error)
}

// JobPoller produces a finite sequence of state observations for a task.
type JobPoller interface {
	Poll(ctx context.Context, taskID string) <-chan domain.Update
}

// Publisher broadcasts terminal job transitions to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev events.JobTransition) error
}

// Config holds orchestrator configuration
type Config struct {
	// Defaults applied to every render request.
	AspectRatio  string
	OutputFormat string
}

// Orchestrator ties submission, polling, resumption, and persistence
// together. It enforces at most one active poll per prompt and writes every
// transition through to the registry before anything downstream sees it.
type Orchestrator struct {
	cfg       *Config
	submitter Submitter
	poller    JobPoller
	registry  *registry.Registry
	publisher Publisher // may be nil
	logger    *slog.Logger

	// root is the lifetime of all poll loops; request contexts only bound
	// the submission itself.
	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*pollHandle
}

// pollHandle identifies one claimed poll slot and carries the job's context.
// The context is created at claim time, before any submission round-trip, so
// an Abandon landing mid-submission still cancels the job. Releases compare
// handles so a finished loop can never free a slot that a newer render
// re-claimed.
type pollHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Orchestrator instance
func New(cfg *Config, submitter Submitter, poller JobPoller, reg *registry.Registry, publisher Publisher, logger *slog.Logger) *Orchestrator {
	root, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		submitter: submitter,
		poller:    poller,
		registry:  reg,
		publisher: publisher,
		logger:    logger,
		root:      root,
		cancel:    cancel,
		active:    make(map[string]*pollHandle),
	}
}

// StartRender submits a rendering job for a prompt and attaches a poll loop
// to it. A prompt with a poll already active is rejected with
// JobInFlightError; it is never queued or raced. A terminal prior job is
// replaced wholesale: manual retry after failure and re-render after success
// are the same path.
func (o *Orchestrator) StartRender(ctx context.Context, promptID string) (string, error) {
	rec, session, err := o.registry.FindPrompt(promptID)
	if err != nil {
		return "", err
	}

	handle, err := o.reserve(promptID, rec)
	if err != nil {
		return "", err
	}

	req := domain.RenderRequest{
		Prompt:        rec.Text,
		ReferenceURLs: session.SubjectRefs,
		AspectRatio:   o.cfg.AspectRatio,
		OutputFormat:  o.cfg.OutputFormat,
		Mode:          session.Mode,
	}

	taskID, err := o.submitter.Submit(ctx, req)
	if err != nil {
		o.release(promptID, handle)
		return "", err
	}

	job := domain.Job{
		RemoteID:  taskID,
		Request:   req,
		State:     domain.JobStatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.registry.RecordSubmission(o.root, promptID, job); err != nil {
		o.release(promptID, handle)
		return "", fmt.Errorf("failed to record submission: %w", err)
	}

	o.attach(handle, promptID, taskID)

	o.logger.Info("Render started",
		slog.String("prompt_id", promptID),
		slog.String("task_id", taskID),
	)
	return taskID, nil
}

// Resume re-attaches a poll loop to every persisted job that has a remote id
// but no terminal outcome. Nothing is re-submitted. Returns the number of
// polls attached.
func (o *Orchestrator) Resume() int {
	unresolved := o.registry.UnresolvedJobs()

	attached := 0
	for _, u := range unresolved {
		o.mu.Lock()
		if _, inFlight := o.active[u.PromptID]; inFlight {
			o.mu.Unlock()
			continue
		}
		handle := newPollHandle(o.root)
		o.active[u.PromptID] = handle
		o.mu.Unlock()

		o.attach(handle, u.PromptID, u.TaskID)
		attached++

		o.logger.Info("Resumed in-flight job",
			slog.String("prompt_id", u.PromptID),
			slog.String("task_id", u.TaskID),
		)
	}
	return attached
}

// RenderAll fires renders for every eligible prompt in a session
// concurrently. Prompts already in flight are skipped; one prompt's failure
// never blocks the others, and no cross-prompt ordering is enforced.
func (o *Orchestrator) RenderAll(ctx context.Context, sessionID string) (int, error) {
	session, err := o.registry.Session(sessionID)
	if err != nil {
		return 0, err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for _, p := range session.Prompts {
		wg.Add(1)
		go func(promptID string) {
			defer wg.Done()
			if _, err := o.StartRender(ctx, promptID); err != nil {
				o.logger.Warn("Bulk render skipped prompt",
					slog.String("prompt_id", promptID),
					slog.String("error", err.Error()),
				)
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
		}(p.ID)
	}
	wg.Wait()

	o.logger.Info("Bulk render submitted",
		slog.String("session_id", sessionID),
		slog.Int("started", started),
		slog.Int("prompts", len(session.Prompts)),
	)
	return started, nil
}

// Abandon cancels the active poll for a prompt, if any. The loop stops at
// its next suspension point and discards any result instead of writing it
// back.
func (o *Orchestrator) Abandon(promptID string) {
	o.mu.Lock()
	handle, ok := o.active[promptID]
	if ok {
		delete(o.active, promptID)
	}
	o.mu.Unlock()

	if ok {
		handle.cancel()
		o.logger.Debug("Poll abandoned",
			slog.String("prompt_id", promptID),
		)
	}
}

// AbandonSession cancels the active polls for every prompt in a session.
func (o *Orchestrator) AbandonSession(sessionID string) {
	session, err := o.registry.Session(sessionID)
	if err != nil {
		return
	}
	for _, p := range session.Prompts {
		o.Abandon(p.ID)
	}
}

// Active reports whether a prompt currently has a poll loop attached.
func (o *Orchestrator) Active(promptID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[promptID]
	return ok
}

// Close stops all poll loops and waits for them to drain. In-flight jobs
// stay unresolved in the registry and resume on the next start.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func newPollHandle(parent context.Context) *pollHandle {
	ctx, cancel := context.WithCancel(parent)
	return &pollHandle{ctx: ctx, cancel: cancel}
}

// reserve claims the prompt's poll slot before the submission round-trip so
// two concurrent StartRender calls cannot both submit.
func (o *Orchestrator) reserve(promptID string, rec domain.PromptRecord) (*pollHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[promptID]; ok {
		taskID := ""
		if rec.Job != nil {
			taskID = rec.Job.RemoteID
		}
		return nil, &domain.JobInFlightError{PromptID: promptID, TaskID: taskID}
	}

	handle := newPollHandle(o.root)
	o.active[promptID] = handle
	return handle, nil
}

// release frees the prompt's poll slot, but only if it is still owned by
// this handle. The handle's context is cancelled either way.
func (o *Orchestrator) release(promptID string, handle *pollHandle) {
	o.mu.Lock()
	if o.active[promptID] == handle {
		delete(o.active, promptID)
	}
	o.mu.Unlock()

	handle.cancel()
}

// attach starts the poll loop and the watcher that applies its observations.
// The caller claimed the slot with the given handle; if the handle was
// abandoned while the submission was in flight, no watch is spawned.
func (o *Orchestrator) attach(handle *pollHandle, promptID, taskID string) {
	if handle.ctx.Err() != nil {
		return
	}

	o.wg.Add(1)
	go o.watch(handle.ctx, handle, promptID, taskID)
}

// watch consumes one job's poll observations in order and writes each one
// through to the registry before publishing it, so durable state never lags
// observable state by more than one transition.
func (o *Orchestrator) watch(ctx context.Context, handle *pollHandle, promptID, taskID string) {
	defer o.wg.Done()
	defer o.release(promptID, handle)

	for update := range o.poller.Poll(ctx, taskID) {
		if ctx.Err() != nil {
			// Abandoned: the record is gone or the process is shutting
			// down. Discard instead of writing back.
			return
		}

		if err := o.registry.RecordTransition(o.root, promptID, update); err != nil {
			o.logger.Error("Failed to record transition",
				slog.String("prompt_id", promptID),
				slog.String("task_id", taskID),
				slog.String("state", string(update.State)),
				slog.String("error", err.Error()),
			)
			return
		}

		if update.Err != nil {
			o.logger.Warn("Poll reported error",
				slog.String("prompt_id", promptID),
				slog.String("task_id", taskID),
				slog.String("error", update.Err.Error()),
			)
		}

		if update.State.Terminal() {
			o.publishTerminal(promptID, taskID, update)
		}
	}
}

func (o *Orchestrator) publishTerminal(promptID, taskID string, update domain.Update) {
	o.logger.Info("Job reached terminal state",
		slog.String("prompt_id", promptID),
		slog.String("task_id", taskID),
		slog.String("state", string(update.State)),
		slog.Int("result_count", len(update.ResultURLs)),
	)

	if o.publisher == nil {
		return
	}

	ev := events.JobTransition{
		PromptID:     promptID,
		TaskID:       taskID,
		State:        update.State,
		ResultURLs:   update.ResultURLs,
		ErrorMessage: update.Message,
		OccurredAt:   time.Now().UTC(),
	}
	if err := o.publisher.Publish(o.root, ev); err != nil {
		o.logger.Warn("Failed to publish job transition",
			slog.String("prompt_id", promptID),
			slog.String("error", err.Error()),
		)
	}
}
