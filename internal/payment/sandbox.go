package payment

import (
	"context"
	"errors"
	"strings"
)

// SandboxGateway is the deterministic in-process provider used outside
// production. It approves every charge except amounts it was told to
// decline, which makes failure paths reproducible in demos and tests.
type SandboxGateway struct {
	// DeclineAmounts maps an exact amount in minor units to a decline reason.
	DeclineAmounts map[int64]string
}

// NewSandboxGateway builds a gateway that declines the listed amounts with a
// generic reason.
func NewSandboxGateway(declineAmounts ...int64) *SandboxGateway {
	gw := &SandboxGateway{}
	for _, amount := range declineAmounts {
		gw.Decline(amount, "card declined")
	}
	return gw
}

// Decline registers an amount that future charges will be declined for.
func (g *SandboxGateway) Decline(amount int64, reason string) *SandboxGateway {
	if g.DeclineAmounts == nil {
		g.DeclineAmounts = make(map[int64]string)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "card declined"
	}
	g.DeclineAmounts[amount] = reason
	return g
}

// Name implements Gateway.
func (g *SandboxGateway) Name() string { return "sandbox" }

// Charge implements Gateway. The provider reference is derived from the
// order id so repeated runs stay recognisable in the payments table.
func (g *SandboxGateway) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return ChargeResult{}, errors.New("payment: order id is required")
	}
	if req.Amount <= 0 {
		return ChargeResult{}, errors.New("payment: amount must be positive")
	}
	if reason, ok := g.DeclineAmounts[req.Amount]; ok {
		return ChargeResult{
			Approved:      false,
			ProviderRef:   "sbx-" + req.OrderID,
			DeclineReason: reason,
		}, nil
	}
	return ChargeResult{
		Approved:    true,
		ProviderRef: "sbx-" + req.OrderID,
	}, nil
}
