package catalog

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("service not found")

type Repository interface {
	// GetPublished returns only entries that have been published.
	GetPublished(ctx context.Context, code string) (*Entry, error)
	Get(ctx context.Context, code string) (*Entry, error)
	Create(ctx context.Context, e *Entry) error
	// UpdateDraft must refuse to touch a published entry.
	UpdateDraft(ctx context.Context, e *Entry) error
	Publish(ctx context.Context, code string) (*Entry, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Entry, int, error)
}

// ListFilter narrows catalog listings. Zero values match everything.
type ListFilter struct {
	Department    Department
	PublishedOnly bool
}
