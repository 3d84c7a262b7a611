package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/orders"
	"github.com/ehr/servicegate/internal/domain/payment"
)

type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
)

var (
	ErrNotFound      = errors.New("billing line item not found")
	ErrInvalidAmount = errors.New("invalid amount")
)

// LineItem is the charge for exactly one order. Amount is a snapshot of the
// catalog price when the order was placed.
type LineItem struct {
	ID                 uuid.UUID       `json:"id"`
	VisitID            uuid.UUID       `json:"visit_id"`
	ConsultationID     *uuid.UUID      `json:"consultation_id"`
	ServiceCatalogCode string          `json:"service_catalog_code"`
	Amount             decimal.Decimal `json:"amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	Currency           string          `json:"currency"`
	BillStatus         Status          `json:"bill_status"`
	LinkedOrderID      uuid.UUID       `json:"linked_order_id"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
}

func (li *LineItem) Balance() decimal.Decimal {
	return li.Amount.Sub(li.PaidAmount)
}

// InvariantViolation is returned when code tries to change a PAID line item.
// It indicates a bug, never a user mistake.
type InvariantViolation struct {
	LineItemID uuid.UUID
	Op         string
	Reason     string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("billing invariant violated: %s on line item %s: %s", e.Op, e.LineItemID, e.Reason)
}

func (li *LineItem) guard(op string) error {
	if li.BillStatus == StatusPaid {
		return &InvariantViolation{LineItemID: li.ID, Op: op, Reason: "line item is PAID and immutable"}
	}
	return nil
}

func (li *LineItem) markPaid(now time.Time) {
	li.BillStatus = StatusPaid
	li.PaidAt = &now
}

func (li *LineItem) applyPayment(amount decimal.Decimal, now time.Time) error {
	if err := li.guard("apply_payment"); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("payment must be positive: %w", ErrInvalidAmount)
	}
	if amount.GreaterThan(li.Balance()) {
		return fmt.Errorf("payment %s exceeds balance %s: %w", amount.StringFixed(2), li.Balance().StringFixed(2), ErrInvalidAmount)
	}
	li.PaidAmount = li.PaidAmount.Add(amount)
	li.UpdatedAt = now
	if li.Balance().IsZero() {
		li.markPaid(now)
	} else {
		li.BillStatus = StatusPartiallyPaid
	}
	return nil
}

func (li *LineItem) adjust(amount decimal.Decimal, now time.Time) error {
	if err := li.guard("adjust"); err != nil {
		return err
	}
	if amount.IsNegative() {
		return fmt.Errorf("amount must not be negative: %w", ErrInvalidAmount)
	}
	if amount.LessThan(li.PaidAmount) {
		return fmt.Errorf("amount %s is below the %s already paid: %w", amount.StringFixed(2), li.PaidAmount.StringFixed(2), ErrInvalidAmount)
	}
	li.Amount = amount
	li.UpdatedAt = now
	if li.PaidAmount.IsPositive() && li.Balance().IsZero() {
		li.markPaid(now)
	}
	return nil
}

// PreclearPolicy decides whether a bill-after service is already settled when
// the order is placed, based on how the visit's payment cleared.
type PreclearPolicy struct {
	methods map[string]bool
}

func NewPreclearPolicy(methods []string) PreclearPolicy {
	p := PreclearPolicy{methods: make(map[string]bool, len(methods))}
	for _, m := range methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			p.methods[m] = true
		}
	}
	return p
}

func (p PreclearPolicy) Preclears(e *catalog.Entry, st payment.State) bool {
	return e.BillTiming == catalog.BillAfter && st.Cleared && p.methods[strings.ToUpper(st.Method)]
}

// newLineItem snapshots the entry price for the order.
func newLineItem(o *orders.Order, e *catalog.Entry, preclear bool, now time.Time) *LineItem {
	li := &LineItem{
		ID:                 uuid.New(),
		VisitID:            o.VisitID,
		ConsultationID:     o.ConsultationID,
		ServiceCatalogCode: e.Code,
		Amount:             e.Amount,
		PaidAmount:         decimal.Zero,
		Currency:           e.Currency,
		BillStatus:         StatusPending,
		LinkedOrderID:      o.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if preclear {
		li.PaidAmount = e.Amount
		li.markPaid(now)
	}
	return li
}
