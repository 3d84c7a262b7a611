package visit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/servicegate/internal/domain/audit"
	"github.com/ehr/servicegate/internal/platform/auth"
)

func newTestService() (*Service, *mockRepo, *recordingAppender) {
	repo := newMockRepo()
	rec := &recordingAppender{}
	return NewService(repo, &passthroughTx{}, rec), repo, rec
}

func TestService_GetVisitIncludesConsultations(t *testing.T) {
	svc, repo, _ := newTestService()
	v := repo.addVisit(StatusActive)
	repo.addConsultation(v.ID, ConsultationPending)
	repo.addConsultation(uuid.New(), ConsultationPending)

	got, err := svc.GetVisit(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if len(got.Consultations) != 1 {
		t.Errorf("expected 1 consultation, got %d", len(got.Consultations))
	}
}

func TestService_GetVisitNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.GetVisit(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_StartConsultation(t *testing.T) {
	svc, repo, rec := newTestService()
	v := repo.addVisit(StatusActive)
	c := repo.addConsultation(v.ID, ConsultationPending)
	ctx := auth.WithUser(context.Background(), "dr-1", []string{"DOCTOR"})

	got, err := svc.StartConsultation(ctx, v.ID, c.ID)
	if err != nil {
		t.Fatalf("StartConsultation: %v", err)
	}
	if got.Status != ConsultationActive {
		t.Errorf("expected ACTIVE, got %s", got.Status)
	}
	if repo.consultations[c.ID].Status != ConsultationActive {
		t.Error("expected stored consultation to be ACTIVE")
	}
	if len(repo.locked) != 1 || repo.locked[0] != v.ID {
		t.Errorf("expected visit row lock, got %v", repo.locked)
	}
	if len(rec.entries) != 1 || rec.entries[0].Action != audit.ActionConsultationStarted || rec.entries[0].Actor != "dr-1" {
		t.Errorf("unexpected audit entries %+v", rec.entries)
	}

	if _, err := svc.StartConsultation(ctx, v.ID, c.ID); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Error("starting an ACTIVE consultation must not audit again")
	}
}

func TestService_StartConsultation_VisitNotActive(t *testing.T) {
	svc, repo, _ := newTestService()
	v := repo.addVisit(StatusAwaitingPayment)
	c := repo.addConsultation(v.ID, ConsultationPending)

	if _, err := svc.StartConsultation(context.Background(), v.ID, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestService_StartConsultation_WrongVisit(t *testing.T) {
	svc, repo, _ := newTestService()
	v := repo.addVisit(StatusActive)
	other := repo.addVisit(StatusActive)
	c := repo.addConsultation(other.ID, ConsultationPending)

	if _, err := svc.StartConsultation(context.Background(), v.ID, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_CloseConsultation(t *testing.T) {
	svc, repo, rec := newTestService()
	v := repo.addVisit(StatusActive)
	c := repo.addConsultation(v.ID, ConsultationActive)

	got, err := svc.CloseConsultation(context.Background(), v.ID, c.ID)
	if err != nil {
		t.Fatalf("CloseConsultation: %v", err)
	}
	if got.Status != ConsultationClosed || got.ClosedAt == nil {
		t.Errorf("unexpected consultation %+v", got)
	}
	if len(rec.entries) != 1 || rec.entries[0].Action != audit.ActionConsultationClosed {
		t.Errorf("unexpected audit entries %+v", rec.entries)
	}
}

func TestService_CompleteVisitClosesConsultations(t *testing.T) {
	svc, repo, rec := newTestService()
	v := repo.addVisit(StatusActive)
	open := repo.addConsultation(v.ID, ConsultationActive)
	pending := repo.addConsultation(v.ID, ConsultationPending)
	done := repo.addConsultation(v.ID, ConsultationClosed)

	got, err := svc.CompleteVisit(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("CompleteVisit: %v", err)
	}
	if got.Status != StatusCompleted || repo.visits[v.ID].Status != StatusCompleted {
		t.Error("expected visit COMPLETED")
	}
	for _, id := range []uuid.UUID{open.ID, pending.ID, done.ID} {
		if repo.consultations[id].Status != ConsultationClosed {
			t.Errorf("consultation %s not closed", id)
		}
	}
	if len(rec.entries) != 1 || rec.entries[0].Action != audit.ActionVisitCompleted {
		t.Fatalf("unexpected audit entries %+v", rec.entries)
	}
	closed, _ := rec.entries[0].Metadata["closed_consultations"].([]string)
	if len(closed) != 2 {
		t.Errorf("expected 2 closed consultations recorded, got %v", closed)
	}

	if _, err := svc.CompleteVisit(context.Background(), v.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second completion, got %v", err)
	}
}
