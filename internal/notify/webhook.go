package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/resilience"
)

// Webhook posts emitted domain events to one configured endpoint. Deliveries
// are signed so the receiver can authenticate the sender.
type Webhook struct {
	Endpoint string
	Secret   string
	Client   resilience.HTTPClient
	// Topics restricts delivery; empty means every topic is delivered.
	Topics map[string]struct{}
}

// NewWebhook validates the endpoint and builds a notifier for the listed
// topics (all topics when the list is empty).
func NewWebhook(endpoint, secret string, topics []string, client resilience.HTTPClient) (*Webhook, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	w := &Webhook{Endpoint: endpoint, Secret: secret, Client: client}
	if len(topics) > 0 {
		w.Topics = make(map[string]struct{}, len(topics))
		for _, topic := range topics {
			topic = strings.TrimSpace(topic)
			if topic != "" {
				w.Topics[topic] = struct{}{}
			}
		}
	}
	return w, nil
}

type eventEnvelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Notify implements events.Notifier. Non-2xx responses count as failures so
// the retry and breaker layers see them.
func (w *Webhook) Notify(ctx context.Context, event dbgen.DomainEvent) error {
	if w == nil || strings.TrimSpace(w.Endpoint) == "" {
		return nil
	}
	if len(w.Topics) > 0 {
		if _, ok := w.Topics[event.Topic]; !ok {
			return nil
		}
	}

	eventID := uuidString(event.ID)
	body, err := json.Marshal(eventEnvelope{
		ID:          eventID,
		Topic:       event.Topic,
		AggregateID: uuidString(event.AggregateID),
		Payload:     json.RawMessage(event.Payload),
		OccurredAt:  event.OccurredAt.Time,
	})
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", event.Topic, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Lapak-Event", event.Topic)
	req.Header.Set("X-Lapak-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Lapak-Signature", ComputeSignature(w.Secret, ts, eventID, body))

	resp, err := w.Client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("notify: deliver %s: %w", event.Topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: deliver %s: endpoint returned %s", event.Topic, resp.Status)
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<ts>.<eventID>.<body>"
// under the shared secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient builds the outbound client with OpenTelemetry instrumentation.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// validateEndpoint accepts https anywhere and plain http for loopback only.
func validateEndpoint(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("notify: invalid endpoint url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("notify: http endpoint only allowed for localhost")
		}
	default:
		return errors.New("notify: endpoint must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("notify: endpoint must include a host")
	}
	return nil
}

func uuidString(value pgtype.UUID) string {
	if !value.Valid {
		return ""
	}
	id, err := uuid.FromBytes(value.Bytes[:])
	if err != nil {
		return ""
	}
	return id.String()
}
