// Package workflow places orders for catalog services. Every placement resolves
// the decision context, runs the gate and, when allowed, writes the order, its
// billing line item and an audit entry in one transaction.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/servicegate/internal/domain/audit"
	"github.com/ehr/servicegate/internal/domain/billing"
	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/gate"
	"github.com/ehr/servicegate/internal/domain/orders"
	"github.com/ehr/servicegate/internal/domain/payment"
	"github.com/ehr/servicegate/internal/domain/visit"
	"github.com/ehr/servicegate/internal/platform/db"
	"github.com/ehr/servicegate/internal/platform/events"
)

type CatalogLookup interface {
	Lookup(ctx context.Context, code string) (*catalog.Entry, error)
}

type LineItemCreator interface {
	CreateLineItem(ctx context.Context, o *orders.Order, e *catalog.Entry, st payment.State) (*billing.LineItem, error)
}

// Deps are the collaborators of a Service. Payments defaults to the visit
// payment status and Events to a no-op publisher.
type Deps struct {
	Catalog  CatalogLookup
	Visits   visit.Repository
	Orders   orders.Repository
	Billing  LineItemCreator
	Payments payment.StateProvider
	Audit    audit.Appender
	Events   events.Publisher
	Tx       db.TxRunner
	Logger   zerolog.Logger
}

type Service struct {
	catalog  CatalogLookup
	visits   visit.Repository
	orders   orders.Repository
	billing  LineItemCreator
	payments payment.StateProvider
	audit    audit.Appender
	events   events.Publisher
	tx       db.TxRunner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		catalog:  d.Catalog,
		visits:   d.Visits,
		orders:   d.Orders,
		billing:  d.Billing,
		payments: d.Payments,
		audit:    d.Audit,
		events:   d.Events,
		tx:       d.Tx,
		logger:   d.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.payments == nil {
		s.payments = payment.VisitStatusProvider{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	return s
}

type PlaceOrderRequest struct {
	ServiceCode    string
	VisitID        uuid.UUID
	ConsultationID *uuid.UUID
	Actor          orders.Actor
	Payload        json.RawMessage
}

// Placement is what a successful PlaceOrder wrote. Consultation is set only
// for CONSULTATION department services.
type Placement struct {
	Order        *orders.Order       `json:"order"`
	LineItem     *billing.LineItem   `json:"billing_line_item"`
	Consultation *visit.Consultation `json:"consultation,omitempty"`
}

// LockQuery asks whether a service could be ordered right now.
type LockQuery struct {
	ServiceCode    string
	VisitID        uuid.UUID
	ConsultationID *uuid.UUID
	Role           catalog.Role
}

type LockResult struct {
	ServiceCode string `json:"service_code"`
	gate.Result
}

// CheckLock evaluates the gate without writing anything. It resolves the
// decision context exactly as PlaceOrder does.
func (s *Service) CheckLock(ctx context.Context, q LockQuery) (gate.Result, error) {
	in, err := s.resolve(ctx, q, false)
	if err != nil {
		return gate.Result{}, err
	}
	return gate.Evaluate(in), nil
}

// CheckLocks evaluates several services against the same visit, in the order given.
func (s *Service) CheckLocks(ctx context.Context, q LockQuery, codes []string) ([]LockResult, error) {
	out := make([]LockResult, 0, len(codes))
	for _, code := range codes {
		q.ServiceCode = code
		res, err := s.CheckLock(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", code, err)
		}
		out = append(out, LockResult{ServiceCode: code, Result: res})
	}
	return out, nil
}

// resolve loads everything gate.Evaluate needs. Missing rows leave the
// matching Input field nil so the gate reports them.
func (s *Service) resolve(ctx context.Context, q LockQuery, forUpdate bool) (gate.Input, error) {
	in := gate.Input{Role: q.Role}

	e, err := s.catalog.Lookup(ctx, q.ServiceCode)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return in, nil
	case err != nil:
		return in, fmt.Errorf("lookup service %s: %w", q.ServiceCode, err)
	}
	in.Entry = e

	load := s.visits.Get
	if forUpdate {
		load = s.visits.GetForUpdate
	}
	v, err := load(ctx, q.VisitID)
	switch {
	case errors.Is(err, visit.ErrNotFound):
		return in, nil
	case err != nil:
		return in, fmt.Errorf("load visit %s: %w", q.VisitID, err)
	}
	in.Visit = v

	if q.ConsultationID != nil && !catalog.IsRegistrationClass(e) {
		c, err := s.visits.GetConsultation(ctx, *q.ConsultationID)
		switch {
		case errors.Is(err, visit.ErrNotFound):
		case err != nil:
			return in, fmt.Errorf("load consultation %s: %w", *q.ConsultationID, err)
		default:
			in.Consultation = c
		}
	}

	st, err := s.payments.State(ctx, v, e.Department)
	if err != nil {
		return in, fmt.Errorf("payment state for visit %s: %w", v.ID, err)
	}
	in.Payment = st
	return in, nil
}

// PlaceOrder runs the gate and, when it allows, writes the order, its line
// item and an order.created audit entry atomically. Refusals come back as
// *Denial and leave no domain records behind.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Placement, error) {
	q := LockQuery{
		ServiceCode:    req.ServiceCode,
		VisitID:        req.VisitID,
		ConsultationID: req.ConsultationID,
		Role:           req.Actor.Role,
	}

	var (
		out   *Placement
		entry *catalog.Entry
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		in, err := s.resolve(ctx, q, true)
		if err != nil {
			return err
		}
		if err := s.activateConsultation(ctx, in, req.Actor); err != nil {
			return err
		}
		if res := gate.Evaluate(in); !res.Allowed {
			return deny(res)
		}
		p, err := s.place(ctx, in, req)
		if err != nil {
			return err
		}
		out, entry = p, in.Entry
		return nil
	})

	var denial *Denial
	if errors.As(err, &denial) {
		s.recordDenial(ctx, req, denial)
		return nil, denial
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", out.Order.ID.String()).
		Str("visit_id", out.Order.VisitID.String()).
		Str("service_code", out.Order.ServiceCode).
		Str("bill_status", string(out.LineItem.BillStatus)).
		Msg("order placed")
	s.publish(out, entry)
	return out, nil
}

// activateConsultation moves the referenced consultation from PENDING to
// ACTIVE when the service needs one. It runs inside the placement transaction.
func (s *Service) activateConsultation(ctx context.Context, in gate.Input, actor orders.Actor) error {
	e := in.Entry
	if e == nil || in.Visit == nil || !e.RequiresConsultation || catalog.IsRegistrationClass(e) {
		return nil
	}
	c := in.Consultation
	if !c.UsableFor(in.Visit.ID) || c.Status != visit.ConsultationPending {
		return nil
	}
	if _, err := c.Activate(s.now()); err != nil {
		return err
	}
	if err := s.visits.UpdateConsultation(ctx, c); err != nil {
		return fmt.Errorf("activate consultation %s: %w", c.ID, err)
	}
	return s.record(ctx, actor, audit.ActionConsultationStarted, "consultation", c.ID.String(), map[string]interface{}{
		"visit_id":     in.Visit.ID.String(),
		"service_code": e.Code,
	})
}

func (s *Service) place(ctx context.Context, in gate.Input, req PlaceOrderRequest) (*Placement, error) {
	e := in.Entry
	ctor, err := orders.ConstructorFor(e)
	if err != nil {
		return nil, err
	}
	details, err := ctor.Decode(req.Payload)
	if err != nil {
		return nil, deny(gate.Deny(gate.ReasonAdditionalDataRequired,
			"service %s: payload could not be read as %s details", e.Code, ctor.Kind()))
	}
	if missing := ctor.Validate(details); len(missing) > 0 {
		return nil, deny(gate.Deny(gate.ReasonAdditionalDataRequired,
			"service %s requires: %s", e.Code, strings.Join(missing, ", ")))
	}

	var consultationID *uuid.UUID
	if in.Consultation.UsableFor(in.Visit.ID) {
		id := in.Consultation.ID
		consultationID = &id
	}
	o, err := orders.New(in.Visit, consultationID, e, req.Actor, details, s.now())
	if err != nil {
		return nil, err
	}

	dup, err := s.orders.FindDuplicate(ctx, o)
	switch {
	case err == nil:
		return nil, duplicate(e, &dup.ID)
	case !errors.Is(err, orders.ErrNotFound):
		return nil, fmt.Errorf("check duplicate order: %w", err)
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, orders.ErrDuplicate) {
			return nil, duplicate(e, nil)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	p := &Placement{Order: o}
	if e.Department == catalog.DepartmentConsultation {
		c := visit.NewConsultation(in.Visit.ID, req.Actor.ID, o.CreatedAt)
		c.SourceOrder = &o.ID
		if err := s.visits.CreateConsultation(ctx, c); err != nil {
			return nil, fmt.Errorf("create consultation: %w", err)
		}
		p.Consultation = c
	}

	if p.LineItem, err = s.billing.CreateLineItem(ctx, o, e, in.Payment); err != nil {
		return nil, fmt.Errorf("create billing line item: %w", err)
	}

	meta := map[string]interface{}{
		"service_code": e.Code,
		"kind":         string(o.Kind),
		"visit_id":     o.VisitID.String(),
		"line_item_id": p.LineItem.ID.String(),
		"bill_status":  string(p.LineItem.BillStatus),
		"amount":       p.LineItem.Amount.StringFixed(2),
		"auto_bill":    e.AutoBill,
	}
	if o.ConsultationID != nil {
		meta["consultation_id"] = o.ConsultationID.String()
	}
	if p.Consultation != nil {
		meta["requested_consultation_id"] = p.Consultation.ID.String()
	}
	if err := s.record(ctx, req.Actor, audit.ActionOrderCreated, "order", o.ID.String(), meta); err != nil {
		return nil, err
	}
	return p, nil
}

func duplicate(e *catalog.Entry, existing *uuid.UUID) *Denial {
	if existing == nil {
		return deny(gate.Deny(gate.ReasonDuplicateOrder,
			"an identical %s order already exists on this visit", e.Code))
	}
	return deny(gate.Deny(gate.ReasonDuplicateOrder,
		"an identical %s order already exists on this visit (order %s)", e.Code, existing.String()))
}

// recordDenial writes order.denied outside the rolled back transaction. A
// failure here is logged and does not change the response.
func (s *Service) recordDenial(ctx context.Context, req PlaceOrderRequest, d *Denial) {
	s.logger.Info().
		Str("visit_id", req.VisitID.String()).
		Str("service_code", req.ServiceCode).
		Str("role", string(req.Actor.Role)).
		Str("reason_code", string(d.Result.ReasonCode)).
		Msg("order denied")

	meta := map[string]interface{}{
		"service_code": req.ServiceCode,
		"reason_code":  string(d.Result.ReasonCode),
		"message":      d.Result.Message,
	}
	if req.ConsultationID != nil {
		meta["consultation_id"] = req.ConsultationID.String()
	}
	if err := s.record(ctx, req.Actor, audit.ActionOrderDenied, "visit", req.VisitID.String(), meta); err != nil {
		s.logger.Error().Err(err).
			Str("visit_id", req.VisitID.String()).
			Str("service_code", req.ServiceCode).
			Msg("audit order denial")
	}
}

func (s *Service) record(ctx context.Context, actor orders.Actor, action, resourceType, resourceID string, meta map[string]interface{}) error {
	if s.audit == nil {
		return nil
	}
	err := s.audit.Append(ctx, &audit.Entry{
		Actor:        actor.ID,
		Role:         string(actor.Role),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     meta,
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// OrderPlaced is the payload of the order.placed event consumed by department
// worklists.
type OrderPlaced struct {
	OrderID        uuid.UUID          `json:"order_id"`
	VisitID        uuid.UUID          `json:"visit_id"`
	ConsultationID *uuid.UUID         `json:"consultation_id,omitempty"`
	ServiceCode    string             `json:"service_code"`
	Department     catalog.Department `json:"department"`
	Kind           orders.Kind        `json:"kind"`
	Details        orders.Details     `json:"details"`
	LineItemID     uuid.UUID          `json:"line_item_id"`
	BillStatus     billing.Status     `json:"bill_status"`
	OrderedBy      string             `json:"ordered_by"`
	OrderedByRole  catalog.Role       `json:"ordered_by_role"`
}

func (s *Service) publish(p *Placement, e *catalog.Entry) {
	o := p.Order
	ev := events.NewEvent(events.TypeOrderPlaced, OrderPlaced{
		OrderID:        o.ID,
		VisitID:        o.VisitID,
		ConsultationID: o.ConsultationID,
		ServiceCode:    o.ServiceCode,
		Department:     e.Department,
		Kind:           o.Kind,
		Details:        o.Details,
		LineItemID:     p.LineItem.ID,
		BillStatus:     p.LineItem.BillStatus,
		OrderedBy:      o.OrderedBy,
		OrderedByRole:  o.OrderedByRole,
	})
	if !s.events.Publish(ev) {
		s.logger.Warn().Str("order_id", o.ID.String()).Msg("order.placed event not queued")
	}
}
