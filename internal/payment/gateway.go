package payment

import "context"

// ChargeRequest describes one charge attempt.
type ChargeRequest struct {
	OrderID string
	UserID  string
	Amount  int64
	Method  string
}

// ChargeResult is the provider's business outcome. Approved false means the
// charge was declined; transport problems are returned as errors instead.
type ChargeResult struct {
	Approved      bool
	ProviderRef   string
	DeclineReason string
}

// Gateway is the strategy interface payment providers implement.
type Gateway interface {
	// Name identifies the provider in metrics and stored payment rows.
	Name() string
	// Charge attempts the payment. An error means the provider could not be
	// reached or gave no usable answer; the caller treats that as retryable.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
