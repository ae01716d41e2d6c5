package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/events"
)

// enqueuer is the slice of asynq.Client the scheduler needs.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler turns domain events into background tasks. It implements
// events.Scheduler; topics without a task mapping are ignored.
type Scheduler struct {
	Client enqueuer
}

// Schedule implements events.Scheduler.
func (s Scheduler) Schedule(ctx context.Context, event dbgen.DomainEvent) error {
	if s.Client == nil {
		return errors.New("tasks: client not configured")
	}
	task, err := taskForEvent(event)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	if _, err := s.Client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("tasks: enqueue %s: %w", task.Type(), err)
	}
	return nil
}

func taskForEvent(event dbgen.DomainEvent) (*asynq.Task, error) {
	switch event.Topic {
	case events.TopicUserRegistered:
		var p WelcomeEmailPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, fmt.Errorf("tasks: decode %s payload: %w", event.Topic, err)
		}
		if p.Email == "" {
			return nil, fmt.Errorf("tasks: %s payload has no email", event.Topic)
		}
		return NewWelcomeEmailTask(p)
	case events.TopicOrderPaid:
		var p ReceiptEmailPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, fmt.Errorf("tasks: decode %s payload: %w", event.Topic, err)
		}
		if p.OrderID == "" {
			return nil, fmt.Errorf("tasks: %s payload has no order id", event.Topic)
		}
		return NewReceiptEmailTask(p)
	default:
		return nil, nil
	}
}
