package orders

import (
	"context"

	"github.com/google/uuid"
)

// Service is the read side for placed orders. Orders are written only through
// the workflow dispatcher.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListVisitOrders(ctx context.Context, visitID uuid.UUID, filter ListFilter, limit, offset int) ([]*Order, int, error) {
	return s.repo.ListByVisit(ctx, visitID, filter, limit, offset)
}
