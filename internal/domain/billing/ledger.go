package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/servicegate/internal/domain/audit"
	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/orders"
	"github.com/ehr/servicegate/internal/domain/payment"
	"github.com/ehr/servicegate/internal/platform/auth"
	"github.com/ehr/servicegate/internal/platform/db"
)

// Ledger is the only writer of billing line items.
type Ledger struct {
	repo   Repository
	tx     db.TxRunner
	audit  audit.Appender
	policy PreclearPolicy
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedger(repo Repository, tx db.TxRunner, appender audit.Appender, policy PreclearPolicy, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		tx:     tx,
		audit:  appender,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateLineItem writes the single line item for a newly placed order. It runs
// in the caller's transaction.
func (l *Ledger) CreateLineItem(ctx context.Context, o *orders.Order, e *catalog.Entry, st payment.State) (*LineItem, error) {
	li := newLineItem(o, e, l.policy.Preclears(e, st), l.now())
	if err := l.repo.Create(ctx, li); err != nil {
		return nil, err
	}
	return li, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	return l.repo.Get(ctx, id)
}

func (l *Ledger) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*LineItem, error) {
	return l.repo.ListByVisit(ctx, visitID)
}

// ApplyPayment records a payment against the balance, moving the item to
// PARTIALLY_PAID or PAID.
func (l *Ledger) ApplyPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*LineItem, error) {
	return l.mutate(ctx, id, audit.ActionPaymentApplied, func(li *LineItem, now time.Time) (map[string]interface{}, error) {
		if err := li.applyPayment(amount, now); err != nil {
			return nil, err
		}
		return map[string]interface{}{"amount": amount.StringFixed(2), "bill_status": string(li.BillStatus)}, nil
	})
}

// Adjust changes the charged amount of an unpaid item.
func (l *Ledger) Adjust(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*LineItem, error) {
	return l.mutate(ctx, id, audit.ActionLineItemAdjusted, func(li *LineItem, now time.Time) (map[string]interface{}, error) {
		previous := li.Amount
		if err := li.adjust(amount, now); err != nil {
			return nil, err
		}
		return map[string]interface{}{"from": previous.StringFixed(2), "to": amount.StringFixed(2)}, nil
	})
}

func (l *Ledger) mutate(ctx context.Context, id uuid.UUID, action string,
	change func(li *LineItem, now time.Time) (map[string]interface{}, error)) (*LineItem, error) {
	var out *LineItem
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		li, err := l.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		meta, err := change(li, l.now())
		if err != nil {
			return err
		}
		if err := l.repo.Update(ctx, li); err != nil {
			return err
		}
		if l.audit != nil {
			err := l.audit.Append(ctx, &audit.Entry{
				Actor:        auth.UserIDFromContext(ctx),
				Role:         strings.Join(auth.RolesFromContext(ctx), ","),
				Action:       action,
				ResourceType: "billing_line_item",
				ResourceID:   li.ID.String(),
				Metadata:     meta,
			})
			if err != nil {
				return fmt.Errorf("audit %s: %w", action, err)
			}
		}
		out = li
		return nil
	})

	var violation *InvariantViolation
	if errors.As(err, &violation) {
		l.logger.Error().
			Str("line_item_id", violation.LineItemID.String()).
			Str("op", violation.Op).
			Str("reason", violation.Reason).
			Msg("billing invariant violation")
	}
	return out, err
}
