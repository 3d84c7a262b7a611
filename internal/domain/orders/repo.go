package orders

import (
	"context"

	"github.com/google/uuid"
)

type ListFilter struct {
	ServiceCode string
	Status      Status
	Kind        Kind
}

type Repository interface {
	// Create returns ErrDuplicate when the dedupe index rejects the row.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	FindDuplicate(ctx context.Context, o *Order) (*Order, error)
	ListByVisit(ctx context.Context, visitID uuid.UUID, filter ListFilter, limit, offset int) ([]*Order, int, error)
}
