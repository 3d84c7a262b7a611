package visit

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/servicegate/internal/domain/audit"
)

type mockRepo struct {
	visits        map[uuid.UUID]*Visit
	consultations map[uuid.UUID]*Consultation
	locked        []uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		visits:        make(map[uuid.UUID]*Visit),
		consultations: make(map[uuid.UUID]*Consultation),
	}
}

func (m *mockRepo) addVisit(status Status) *Visit {
	v := &Visit{ID: uuid.New(), PatientID: uuid.New(), Status: status, PaymentStatus: PaymentPending}
	m.visits[v.ID] = v
	return v
}

func (m *mockRepo) addConsultation(visitID uuid.UUID, status ConsultationStatus) *Consultation {
	c := &Consultation{ID: uuid.New(), VisitID: visitID, Status: status}
	m.consultations[c.ID] = c
	return c
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	m.locked = append(m.locked, id)
	return m.Get(ctx, id)
}

func (m *mockRepo) Complete(_ context.Context, v *Visit) error {
	cp := *v
	cp.Consultations = nil
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockRepo) GetConsultation(_ context.Context, id uuid.UUID) (*Consultation, error) {
	c, ok := m.consultations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) ListConsultations(_ context.Context, visitID uuid.UUID) ([]*Consultation, error) {
	var out []*Consultation
	for _, c := range m.consultations {
		if c.VisitID == visitID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *mockRepo) CreateConsultation(_ context.Context, c *Consultation) error {
	cp := *c
	m.consultations[c.ID] = &cp
	return nil
}

func (m *mockRepo) UpdateConsultation(_ context.Context, c *Consultation) error {
	if _, ok := m.consultations[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.consultations[c.ID] = &cp
	return nil
}

type passthroughTx struct{ calls int }

func (p *passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type recordingAppender struct {
	entries []*audit.Entry
}

func (r *recordingAppender) Append(_ context.Context, e *audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}
