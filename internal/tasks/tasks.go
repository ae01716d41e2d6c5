package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names. The "email:" prefix groups them for asynq inspection tools.
const (
	TypeEmailWelcome = "email:welcome"
	TypeEmailReceipt = "email:receipt"
)

// QueueEmail is the asynq queue all email tasks run on.
const QueueEmail = "email"

// WelcomeEmailPayload carries everything the welcome mail needs, copied from
// the user.registered event so the handler does not depend on the users table.
type WelcomeEmailPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ReceiptEmailPayload identifies the paid order; the handler loads the order,
// its items and the buyer at delivery time.
type ReceiptEmailPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// NewWelcomeEmailTask builds the welcome email task.
func NewWelcomeEmailTask(p WelcomeEmailPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailWelcome, payload,
		asynq.Queue(QueueEmail),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}

// NewReceiptEmailTask builds the order receipt task.
func NewReceiptEmailTask(p ReceiptEmailPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailReceipt, payload,
		asynq.Queue(QueueEmail),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}
