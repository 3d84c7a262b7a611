// Package payment answers whether a visit's payment clears pay-before services.
// Payment collection itself happens in an external system.
package payment

import (
	"context"

	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/visit"
)

// State is the clearance seen at decision time.
type State struct {
	Cleared bool   `json:"cleared"`
	Method  string `json:"method,omitempty"`
	Source  string `json:"source,omitempty"`
}

type StateProvider interface {
	State(ctx context.Context, v *visit.Visit, department catalog.Department) (State, error)
}

const (
	SourceVisit = "visit"
	SourceRedis = "clearance"

	MethodWaiver = "WAIVER"
)

// VisitStatusProvider derives clearance from visit.payment_status.
type VisitStatusProvider struct{}

func (VisitStatusProvider) State(_ context.Context, v *visit.Visit, _ catalog.Department) (State, error) {
	if v == nil {
		return State{Source: SourceVisit}, nil
	}
	st := State{Cleared: v.PaymentStatus.Cleared(), Source: SourceVisit}
	if v.PaymentStatus == visit.PaymentWaived {
		st.Method = MethodWaiver
	}
	return st, nil
}
