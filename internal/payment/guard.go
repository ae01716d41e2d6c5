package payment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/resilience"
)

// GuardedGateway wraps a Gateway with a circuit breaker, a span per charge
// and outcome metrics. A decline keeps the breaker closed: the provider
// answered, the card just did not clear.
type GuardedGateway struct {
	Inner   Gateway
	Breaker *resilience.Breaker
}

// Guard wires the breaker's telemetry target to the gateway name.
func Guard(inner Gateway, breaker *resilience.Breaker) *GuardedGateway {
	if breaker != nil {
		breaker.WithTarget("payment-" + inner.Name())
	}
	return &GuardedGateway{Inner: inner, Breaker: breaker}
}

// Name implements Gateway.
func (g *GuardedGateway) Name() string { return g.Inner.Name() }

// Charge implements Gateway. An open breaker short-circuits without touching
// the provider.
func (g *GuardedGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.charge")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", g.Inner.Name()),
		attribute.String("payment.order_id", req.OrderID),
		attribute.Int64("payment.amount", req.Amount),
		attribute.String("payment.method", req.Method),
	)

	if g.Breaker != nil && !g.Breaker.Allow(ctx) {
		g.count("unavailable")
		span.RecordError(resilience.ErrOpenCircuit)
		return ChargeResult{}, fmt.Errorf("payment: %s: %w", g.Inner.Name(), resilience.ErrOpenCircuit)
	}

	result, err := g.Inner.Charge(ctx, req)
	if g.Breaker != nil {
		g.Breaker.Report(ctx, err == nil)
	}
	if err != nil {
		g.count("error")
		span.RecordError(err)
		return ChargeResult{}, fmt.Errorf("payment: %s: %w", g.Inner.Name(), err)
	}

	if result.Approved {
		g.count("approved")
	} else {
		g.count("declined")
		span.SetAttributes(attribute.String("payment.decline_reason", result.DeclineReason))
	}
	span.SetAttributes(attribute.Bool("payment.approved", result.Approved))
	return result, nil
}

func (g *GuardedGateway) count(result string) {
	if obs.PaymentChargeTotal != nil {
		obs.PaymentChargeTotal.WithLabelValues(g.Inner.Name(), result).Inc()
	}
}
