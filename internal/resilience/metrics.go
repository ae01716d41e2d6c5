package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState exposes the current state per target:
	// 0=closed, 1=open, 2=half-open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Current breaker state: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})

	// BreakerTransitions counts state machine transitions per target.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_transition_total",
		Help: "Breaker state transitions.",
	}, []string{"target", "from", "to"})

	// BreakerOpenedTotal counts how often a breaker tripped open.
	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_open_total",
		Help: "Times a breaker transitioned into the open state.",
	}, []string{"target"})
)
