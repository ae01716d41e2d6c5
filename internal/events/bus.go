package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/obs"
)

// Store persists emitted events.
type Store interface {
	InsertDomainEvent(ctx context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error)
}

// Scheduler hands an event to the background job layer.
type Scheduler interface {
	Schedule(ctx context.Context, event dbgen.DomainEvent) error
}

// Notifier reacts to an emitted event inline (webhooks, metrics and so on).
type Notifier interface {
	Notify(ctx context.Context, event dbgen.DomainEvent) error
}

// Bus persists domain events and fans them out. Persistence failure fails the
// Emit; fan-out failures are collected and returned alongside the stored
// event so callers can log them without dropping the record.
type Bus struct {
	Store     Store
	Scheduler Scheduler
	Notifiers []Notifier
}

// Emit stores one event and dispatches it to the scheduler and notifiers.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) (dbgen.DomainEvent, error) {
	if b == nil || b.Store == nil {
		return dbgen.DomainEvent{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return dbgen.DomainEvent{}, errors.New("events: topic is required")
	}
	if !aggregateID.Valid {
		return dbgen.DomainEvent{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return dbgen.DomainEvent{}, fmt.Errorf("events: encode payload: %w", err)
	}

	event, err := b.Store.InsertDomainEvent(ctx, dbgen.InsertDomainEventParams{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
	})
	if err != nil {
		return dbgen.DomainEvent{}, fmt.Errorf("events: persist event: %w", err)
	}
	if obs.DomainEventsTotal != nil {
		obs.DomainEventsTotal.WithLabelValues(topic).Inc()
	}

	var fanout error
	if b.Scheduler != nil {
		if schedErr := b.Scheduler.Schedule(ctx, event); schedErr != nil {
			fanout = errors.Join(fanout, fmt.Errorf("events: schedule jobs: %w", schedErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, event); notifyErr != nil {
			fanout = errors.Join(fanout, fmt.Errorf("events: notify: %w", notifyErr))
		}
	}
	return event, fanout
}

// encodePayload normalises the payload into a JSON document, defaulting to {}.
func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return validJSONOrEmpty([]byte(v))
	case []byte:
		return validJSONOrEmpty(v)
	case string:
		return validJSONOrEmpty([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func validJSONOrEmpty(data []byte) ([]byte, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), data...), nil
}
