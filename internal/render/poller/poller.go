package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
	"github.com/prompt-alchemy/render-be/internal/render/kie"
)

// StatusClient fetches one status snapshot for a task.
type StatusClient interface {
	Status(ctx context.Context, taskID string) (*kie.TaskStatus, error)
}

// Config holds poll loop tuning
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poller repeatedly queries a task's remote status until it reaches a
// terminal state or the attempt budget runs out. It emits observations and
// mutates nothing; applying them is the orchestrator's job.
type Poller struct {
	client      StatusClient
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// New creates a new Poller instance
func New(client StatusClient, cfg *Config, logger *slog.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 100
	}
	return &Poller{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Poll produces a finite sequence of state observations for a task, one per
// poll, and closes the channel after a terminal observation or when the
// attempt budget is exhausted. Canceling the context ends the sequence
// without a terminal observation.
func (p *Poller) Poll(ctx context.Context, taskID string) <-chan domain.Update {
	updates := make(chan domain.Update)

	go func() {
		defer close(updates)

		for attempt := 1; attempt <= p.maxAttempts; attempt++ {
			update, terminal := p.observe(ctx, taskID, attempt)

			if !p.emit(ctx, updates, update) {
				return
			}
			if terminal {
				return
			}
			if !p.sleep(ctx) {
				return
			}
		}

		// Budget exhausted while still pending. The job may yet complete
		// server-side, so this surfaces as retryable, not as a hard failure.
		timeoutErr := &domain.TimeoutError{TaskID: taskID, Attempts: p.maxAttempts}
		p.logger.Warn("Poll attempt budget exhausted",
			slog.String("task_id", taskID),
			slog.Int("attempts", p.maxAttempts),
		)
		p.emit(ctx, updates, domain.Update{
			State:   domain.JobStateFailed,
			Message: "still processing on the server, check back later and retry",
			Err:     timeoutErr,
		})
	}()

	return updates
}

// observe performs one status request and classifies the outcome. The second
// return is true when the observation is terminal.
func (p *Poller) observe(ctx context.Context, taskID string, attempt int) (domain.Update, bool) {
	status, err := p.client.Status(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			// Task registration can lag creation; keep waiting, but the
			// attempt still counts so repeated 404s cannot block forever.
			p.logger.Debug("Task not registered yet",
				slog.String("task_id", taskID),
				slog.Int("attempt", attempt),
			)
			return domain.Update{State: domain.JobStatePending}, false
		}
		p.logger.Warn("Status poll failed",
			slog.String("task_id", taskID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return domain.Update{State: domain.JobStatePending, Err: err}, false
	}

	switch state := status.State(); state {
	case domain.JobStateSucceeded:
		urls, ok := status.ResultURLs()
		if !ok {
			// A success status with no decodable result is a failure, not
			// still-pending; otherwise the record would hang forever.
			missing := &domain.ResultMissingError{TaskID: taskID}
			p.logger.Error("Success status without a usable result url",
				slog.String("task_id", taskID),
				slog.String("body", string(status.Raw())),
			)
			return domain.Update{
				State:   domain.JobStateFailed,
				Message: "generation finished but returned no image",
				Err:     missing,
			}, true
		}
		return domain.Update{State: domain.JobStateSucceeded, ResultURLs: urls}, true

	case domain.JobStateFailed:
		message := status.FailMessage()
		if message == "" {
			message = "generation failed"
		}
		return domain.Update{State: domain.JobStateFailed, Message: message}, true

	default:
		return domain.Update{State: state}, false
	}
}

func (p *Poller) emit(ctx context.Context, updates chan<- domain.Update, u domain.Update) bool {
	select {
	case updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Poller) sleep(ctx context.Context) bool {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
