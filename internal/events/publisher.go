package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prompt-alchemy/render-be/internal/render/domain"
	"github.com/prompt-alchemy/render-be/shared/rabbitmq"
)

// JobTransition is the message broadcast when a rendering job reaches a
// terminal state. Downstream consumers (monitoring bots, webhooks) subscribe
// to the exchange; the render service never waits on them.
type JobTransition struct {
	PromptID     string          `json:"prompt_id"`
	TaskID       string          `json:"task_id"`
	State        domain.JobState `json:"state"`
	ResultURLs   []string        `json:"result_urls,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Publisher publishes job transitions to RabbitMQ.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a new Publisher instance
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// Publish sends one transition to the exchange.
func (p *Publisher) Publish(ctx context.Context, ev JobTransition) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode job transition: %w", err)
	}

	if err := p.client.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job transition: %w", err)
	}

	p.logger.Debug("Job transition published",
		slog.String("task_id", ev.TaskID),
		slog.String("state", string(ev.State)),
	)
	return nil
}
