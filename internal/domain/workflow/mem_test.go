package workflow

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/servicegate/internal/domain/audit"
	"github.com/ehr/servicegate/internal/domain/billing"
	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/orders"
	"github.com/ehr/servicegate/internal/domain/visit"
	"github.com/ehr/servicegate/internal/platform/events"
)

// memStore backs every repository the workflow touches. memTx snapshots it on
// begin and restores the snapshot when the function fails.
type memStore struct {
	entries       map[string]*catalog.Entry
	visits        map[uuid.UUID]*visit.Visit
	consultations map[uuid.UUID]*visit.Consultation
	orders        []*orders.Order
	lineItems     []*billing.LineItem
	audit         []*audit.Entry

	lockedVisits  []uuid.UUID
	skipPrecheck  bool
	failLineItem  error
	failAuditFor  string
	lookupFailure error
}

func newMemStore() *memStore {
	return &memStore{
		entries:       make(map[string]*catalog.Entry),
		visits:        make(map[uuid.UUID]*visit.Visit),
		consultations: make(map[uuid.UUID]*visit.Consultation),
	}
}

type snapshot struct {
	visits        map[uuid.UUID]visit.Visit
	consultations map[uuid.UUID]visit.Consultation
	orders        []*orders.Order
	lineItems     []billing.LineItem
	audit         []*audit.Entry
}

func (s *memStore) snapshot() snapshot {
	snap := snapshot{
		visits:        make(map[uuid.UUID]visit.Visit, len(s.visits)),
		consultations: make(map[uuid.UUID]visit.Consultation, len(s.consultations)),
		orders:        append([]*orders.Order(nil), s.orders...),
		audit:         append([]*audit.Entry(nil), s.audit...),
	}
	for id, v := range s.visits {
		snap.visits[id] = *v
	}
	for id, c := range s.consultations {
		snap.consultations[id] = *c
	}
	for _, li := range s.lineItems {
		snap.lineItems = append(snap.lineItems, *li)
	}
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.visits = make(map[uuid.UUID]*visit.Visit, len(snap.visits))
	for id, v := range snap.visits {
		v := v
		s.visits[id] = &v
	}
	s.consultations = make(map[uuid.UUID]*visit.Consultation, len(snap.consultations))
	for id, c := range snap.consultations {
		c := c
		s.consultations[id] = &c
	}
	s.orders = snap.orders
	s.audit = snap.audit
	s.lineItems = nil
	for _, li := range snap.lineItems {
		li := li
		s.lineItems = append(s.lineItems, &li)
	}
}

func (s *memStore) addEntry(e *catalog.Entry) *catalog.Entry {
	s.entries[e.Code] = e
	return e
}

func (s *memStore) addVisit(status visit.Status, paid visit.PaymentStatus) *visit.Visit {
	v := &visit.Visit{ID: uuid.New(), PatientID: uuid.New(), Status: status, PaymentStatus: paid}
	s.visits[v.ID] = v
	return v
}

func (s *memStore) addConsultation(visitID uuid.UUID, status visit.ConsultationStatus) *visit.Consultation {
	c := &visit.Consultation{ID: uuid.New(), VisitID: visitID, Status: status}
	s.consultations[c.ID] = c
	return c
}

func (s *memStore) actions() []string {
	out := make([]string, len(s.audit))
	for i, e := range s.audit {
		out[i] = e.Action
	}
	return out
}

type inTxKey struct{}

type memTx struct {
	store      *memStore
	begun      int
	rolledBack int
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.begun++
	snap := t.store.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		t.store.restore(snap)
		t.rolledBack++
		return err
	}
	return nil
}

// Append writes audit entries; failAuditFor makes one action fail.
func (s *memStore) Append(_ context.Context, e *audit.Entry) error {
	if s.failAuditFor != "" && e.Action == s.failAuditFor {
		return errors.New("audit store unavailable")
	}
	s.audit = append(s.audit, e)
	return nil
}

type memCatalog struct{ *memStore }

func (m memCatalog) Lookup(_ context.Context, code string) (*catalog.Entry, error) {
	if m.lookupFailure != nil {
		return nil, m.lookupFailure
	}
	e, ok := m.entries[code]
	if !ok || !e.Published() {
		return nil, catalog.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

type memVisits struct{ *memStore }

func (m memVisits) Get(_ context.Context, id uuid.UUID) (*visit.Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, visit.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m memVisits) GetForUpdate(ctx context.Context, id uuid.UUID) (*visit.Visit, error) {
	m.lockedVisits = append(m.lockedVisits, id)
	return m.Get(ctx, id)
}

func (m memVisits) Complete(_ context.Context, v *visit.Visit) error {
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m memVisits) GetConsultation(_ context.Context, id uuid.UUID) (*visit.Consultation, error) {
	c, ok := m.consultations[id]
	if !ok {
		return nil, visit.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m memVisits) ListConsultations(_ context.Context, visitID uuid.UUID) ([]*visit.Consultation, error) {
	var out []*visit.Consultation
	for _, c := range m.consultations {
		if c.VisitID == visitID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m memVisits) CreateConsultation(_ context.Context, c *visit.Consultation) error {
	cp := *c
	m.consultations[c.ID] = &cp
	return nil
}

func (m memVisits) UpdateConsultation(_ context.Context, c *visit.Consultation) error {
	if _, ok := m.consultations[c.ID]; !ok {
		return visit.ErrNotFound
	}
	cp := *c
	m.consultations[c.ID] = &cp
	return nil
}

type memOrders struct{ *memStore }

func sameKey(a, b *orders.Order) bool {
	consultation := func(o *orders.Order) uuid.UUID {
		if o.ConsultationID == nil {
			return uuid.Nil
		}
		return *o.ConsultationID
	}
	return a.VisitID == b.VisitID && consultation(a) == consultation(b) &&
		a.ServiceCode == b.ServiceCode && a.PayloadHash == b.PayloadHash
}

func (m memOrders) Create(_ context.Context, o *orders.Order) error {
	for _, existing := range m.orders {
		if sameKey(existing, o) {
			return orders.ErrDuplicate
		}
	}
	m.memStore.orders = append(m.memStore.orders, o)
	return nil
}

func (m memOrders) Get(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	for _, o := range m.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (m memOrders) FindDuplicate(_ context.Context, o *orders.Order) (*orders.Order, error) {
	if m.skipPrecheck {
		return nil, orders.ErrNotFound
	}
	for _, existing := range m.orders {
		if sameKey(existing, o) {
			return existing, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (m memOrders) ListByVisit(_ context.Context, visitID uuid.UUID, _ orders.ListFilter, _, _ int) ([]*orders.Order, int, error) {
	var out []*orders.Order
	for _, o := range m.orders {
		if o.VisitID == visitID {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

type memLineItems struct{ *memStore }

func (m memLineItems) Create(_ context.Context, li *billing.LineItem) error {
	if m.failLineItem != nil {
		return m.failLineItem
	}
	cp := *li
	m.memStore.lineItems = append(m.memStore.lineItems, &cp)
	return nil
}

func (m memLineItems) Get(_ context.Context, id uuid.UUID) (*billing.LineItem, error) {
	for _, li := range m.lineItems {
		if li.ID == id {
			cp := *li
			return &cp, nil
		}
	}
	return nil, billing.ErrNotFound
}

func (m memLineItems) GetForUpdate(ctx context.Context, id uuid.UUID) (*billing.LineItem, error) {
	return m.Get(ctx, id)
}

func (m memLineItems) GetByOrder(_ context.Context, orderID uuid.UUID) (*billing.LineItem, error) {
	for _, li := range m.lineItems {
		if li.LinkedOrderID == orderID {
			cp := *li
			return &cp, nil
		}
	}
	return nil, billing.ErrNotFound
}

func (m memLineItems) Update(_ context.Context, li *billing.LineItem) error {
	for i, existing := range m.lineItems {
		if existing.ID == li.ID {
			cp := *li
			m.lineItems[i] = &cp
			return nil
		}
	}
	return billing.ErrNotFound
}

func (m memLineItems) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*billing.LineItem, error) {
	var out []*billing.LineItem
	for _, li := range m.lineItems {
		if li.VisitID == visitID {
			cp := *li
			out = append(out, &cp)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	events []events.Event
	accept bool
}

func (p *recordingPublisher) Publish(e events.Event) bool {
	p.events = append(p.events, e)
	return p.accept
}

type harness struct {
	store  *memStore
	tx     *memTx
	events *recordingPublisher
	svc    *Service
}

func newHarness() *harness {
	store := newMemStore()
	tx := &memTx{store: store}
	pub := &recordingPublisher{accept: true}
	ledger := billing.NewLedger(memLineItems{store}, tx, store, billing.NewPreclearPolicy(nil), zerolog.Nop())
	svc := NewService(Deps{
		Catalog: memCatalog{store},
		Visits:  memVisits{store},
		Orders:  memOrders{store},
		Billing: ledger,
		Audit:   store,
		Events:  pub,
		Tx:      tx,
		Logger:  zerolog.Nop(),
	})
	return &harness{store: store, tx: tx, events: pub, svc: svc}
}

func published(e *catalog.Entry) *catalog.Entry {
	now := e.CreatedAt
	e.PublishedAt = &now
	return e
}

func labCBC() *catalog.Entry {
	return published(&catalog.Entry{
		Code:                 "LAB-CBC",
		Name:                 "Complete blood count",
		Department:           catalog.DepartmentLab,
		WorkflowType:         "LAB",
		RequiresVisit:        true,
		RequiresConsultation: true,
		AllowedRoles:         catalog.NewRoleSet(catalog.RoleDoctor),
		AutoBill:             true,
		BillTiming:           catalog.BillBefore,
		Amount:               decimal.RequireFromString("450.00"),
		Currency:             "INR",
	})
}

func registration() *catalog.Entry {
	return published(&catalog.Entry{
		Code:                 "REG-001-REGISTRATION",
		Name:                 "OPD registration",
		Department:           catalog.DepartmentRegistration,
		WorkflowType:         "REGISTRATION",
		RequiresVisit:        true,
		RequiresConsultation: true,
		AllowedRoles:         catalog.NewRoleSet(catalog.RoleReceptionist),
		AutoBill:             true,
		BillTiming:           catalog.BillAfter,
		Amount:               decimal.RequireFromString("100.00"),
		Currency:             "INR",
	})
}

func pharmacy() *catalog.Entry {
	return published(&catalog.Entry{
		Code:                 "PHARM-0091",
		Name:                 "Amoxicillin 500mg",
		Department:           catalog.DepartmentPharmacy,
		WorkflowType:         "PRESCRIPTION",
		RequiresVisit:        true,
		RequiresConsultation: true,
		AllowedRoles:         catalog.NewRoleSet(catalog.RoleDoctor),
		AutoBill:             true,
		BillTiming:           catalog.BillAfter,
		Amount:               decimal.RequireFromString("85.50"),
		Currency:             "INR",
	})
}

func consultationService() *catalog.Entry {
	return published(&catalog.Entry{
		Code:          "CONS-CARDIO",
		Name:          "Cardiology consultation",
		Department:    catalog.DepartmentConsultation,
		WorkflowType:  "CONSULTATION",
		RequiresVisit: true,
		AllowedRoles:  catalog.NewRoleSet(catalog.RoleDoctor, catalog.RoleReceptionist),
		BillTiming:    catalog.BillAfter,
		Amount:        decimal.RequireFromString("600.00"),
		Currency:      "INR",
	})
}

var doctor = orders.Actor{ID: "dr-rao", Role: catalog.RoleDoctor}
