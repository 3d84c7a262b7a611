package catalog

import (
	"context"
	"time"
)

type mockRepo struct {
	items      map[string]*Entry
	publishedN int
	gets       int
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[string]*Entry)}
}

func (m *mockRepo) GetPublished(_ context.Context, code string) (*Entry, error) {
	m.gets++
	e, ok := m.items[code]
	if !ok || !e.Published() {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (m *mockRepo) Get(_ context.Context, code string) (*Entry, error) {
	e, ok := m.items[code]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	m.items[e.Code] = e.clone()
	return nil
}

func (m *mockRepo) UpdateDraft(_ context.Context, e *Entry) error {
	existing, ok := m.items[e.Code]
	if !ok {
		return ErrNotFound
	}
	if existing.Published() {
		return ErrPublished
	}
	e.UpdatedAt = time.Now()
	m.items[e.Code] = e.clone()
	return nil
}

func (m *mockRepo) Publish(_ context.Context, code string) (*Entry, error) {
	e, ok := m.items[code]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.Published() {
		now := time.Now()
		e.PublishedAt = &now
		m.publishedN++
	}
	return e.clone(), nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Entry, int, error) {
	var out []*Entry
	for _, e := range m.items {
		if filter.Department != "" && e.Department != filter.Department {
			continue
		}
		if filter.PublishedOnly && !e.Published() {
			continue
		}
		out = append(out, e.clone())
	}
	return out, len(out), nil
}

func labEntry(code string) *Entry {
	return &Entry{
		Code:                 code,
		Name:                 "Complete Blood Count",
		Department:           DepartmentLab,
		RequiresVisit:        true,
		RequiresConsultation: true,
		AllowedRoles:         NewRoleSet(RoleDoctor),
		AutoBill:             true,
		BillTiming:           BillBefore,
	}
}
