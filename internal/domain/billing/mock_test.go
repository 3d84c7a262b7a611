package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/servicegate/internal/domain/audit"
)

type mockRepo struct {
	items map[uuid.UUID]*LineItem
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*LineItem)}
}

func (m *mockRepo) Create(_ context.Context, li *LineItem) error {
	for _, existing := range m.items {
		if existing.LinkedOrderID == li.LinkedOrderID {
			return errDuplicateOrderLink
		}
	}
	cp := *li
	m.items[li.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*LineItem, error) {
	li, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *li
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	return m.Get(ctx, id)
}

func (m *mockRepo) GetByOrder(_ context.Context, orderID uuid.UUID) (*LineItem, error) {
	for _, li := range m.items {
		if li.LinkedOrderID == orderID {
			cp := *li
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, li *LineItem) error {
	stored, ok := m.items[li.ID]
	if !ok || stored.BillStatus == StatusPaid {
		return &InvariantViolation{LineItemID: li.ID, Op: "update", Reason: "row is PAID or missing"}
	}
	cp := *li
	m.items[li.ID] = &cp
	return nil
}

func (m *mockRepo) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*LineItem, error) {
	var out []*LineItem
	for _, li := range m.items {
		if li.VisitID == visitID {
			cp := *li
			out = append(out, &cp)
		}
	}
	return out, nil
}

type duplicateLinkError struct{}

func (duplicateLinkError) Error() string { return "linked_order_id already billed" }

var errDuplicateOrderLink error = duplicateLinkError{}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingAppender struct {
	entries []*audit.Entry
}

func (r *recordingAppender) Append(_ context.Context, e *audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}
