package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, li *LineItem) error
	Get(ctx context.Context, id uuid.UUID) (*LineItem, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*LineItem, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*LineItem, error)
	// Update refuses rows that are already PAID.
	Update(ctx context.Context, li *LineItem) error
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*LineItem, error)
}
