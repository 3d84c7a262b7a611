package visit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/servicegate/internal/domain/audit"
	"github.com/ehr/servicegate/internal/platform/auth"
	"github.com/ehr/servicegate/internal/platform/db"
)

type Service struct {
	repo  Repository
	tx    db.TxRunner
	audit audit.Appender
	now   func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, appender audit.Appender) *Service {
	return &Service{repo: repo, tx: tx, audit: appender, now: func() time.Time { return time.Now().UTC() }}
}

// GetVisit returns the visit with its consultations.
func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Consultations, err = s.repo.ListConsultations(ctx, id); err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	return v, nil
}

func (s *Service) StartConsultation(ctx context.Context, visitID, consultationID uuid.UUID) (*Consultation, error) {
	var out *Consultation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, c, err := s.lockConsultation(ctx, visitID, consultationID)
		if err != nil {
			return err
		}
		if v.Status != StatusActive {
			return fmt.Errorf("visit %s is %s: %w", v.ID, v.Status, ErrInvalidTransition)
		}
		changed, err := c.Activate(s.now())
		if err != nil {
			return err
		}
		out = c
		if !changed {
			return nil
		}
		if err := s.repo.UpdateConsultation(ctx, c); err != nil {
			return fmt.Errorf("update consultation: %w", err)
		}
		return s.record(ctx, audit.ActionConsultationStarted, "consultation", c.ID, map[string]interface{}{
			"visit_id": v.ID.String(),
		})
	})
	return out, err
}

func (s *Service) CloseConsultation(ctx context.Context, visitID, consultationID uuid.UUID) (*Consultation, error) {
	var out *Consultation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, c, err := s.lockConsultation(ctx, visitID, consultationID)
		if err != nil {
			return err
		}
		if err := c.Close(s.now()); err != nil {
			return err
		}
		if err := s.repo.UpdateConsultation(ctx, c); err != nil {
			return fmt.Errorf("update consultation: %w", err)
		}
		out = c
		return s.record(ctx, audit.ActionConsultationClosed, "consultation", c.ID, map[string]interface{}{
			"visit_id": v.ID.String(),
		})
	})
	return out, err
}

// CompleteVisit closes every open consultation and then the visit itself.
func (s *Service) CompleteVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	var out *Visit
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := v.Complete(now); err != nil {
			return err
		}
		consultations, err := s.repo.ListConsultations(ctx, id)
		if err != nil {
			return fmt.Errorf("list consultations: %w", err)
		}
		var closed []string
		for _, c := range consultations {
			if !c.Open() {
				continue
			}
			if err := c.Close(now); err != nil {
				return err
			}
			if err := s.repo.UpdateConsultation(ctx, c); err != nil {
				return fmt.Errorf("close consultation %s: %w", c.ID, err)
			}
			closed = append(closed, c.ID.String())
		}
		if err := s.repo.Complete(ctx, v); err != nil {
			return fmt.Errorf("complete visit: %w", err)
		}
		v.Consultations = consultations
		out = v
		return s.record(ctx, audit.ActionVisitCompleted, "visit", v.ID, map[string]interface{}{
			"closed_consultations": closed,
		})
	})
	return out, err
}

func (s *Service) lockConsultation(ctx context.Context, visitID, consultationID uuid.UUID) (*Visit, *Consultation, error) {
	v, err := s.repo.GetForUpdate(ctx, visitID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.repo.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, nil, err
	}
	if c.VisitID != v.ID {
		return nil, nil, ErrNotFound
	}
	return v, c, nil
}

func (s *Service) record(ctx context.Context, action, resourceType string, id uuid.UUID, meta map[string]interface{}) error {
	if s.audit == nil {
		return nil
	}
	err := s.audit.Append(ctx, &audit.Entry{
		Actor:        auth.UserIDFromContext(ctx),
		Role:         strings.Join(auth.RolesFromContext(ctx), ","),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   id.String(),
		Metadata:     meta,
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}
