package visit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Visit, error)
	// GetForUpdate row-locks the visit until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error)
	Complete(ctx context.Context, v *Visit) error

	GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error)
	ListConsultations(ctx context.Context, visitID uuid.UUID) ([]*Consultation, error)
	CreateConsultation(ctx context.Context, c *Consultation) error
	UpdateConsultation(ctx context.Context, c *Consultation) error
}
