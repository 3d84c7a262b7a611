package visit

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusActive          Status = "ACTIVE"
	StatusCompleted       Status = "COMPLETED"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid          PaymentStatus = "PAID"
	PaymentWaived        PaymentStatus = "WAIVED"
)

// Cleared reports whether the visit-level payment satisfies pay-before services.
func (p PaymentStatus) Cleared() bool {
	return p == PaymentPaid || p == PaymentWaived
}

type ConsultationStatus string

const (
	ConsultationPending ConsultationStatus = "PENDING"
	ConsultationActive  ConsultationStatus = "ACTIVE"
	ConsultationClosed  ConsultationStatus = "CLOSED"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Visit is one clinical encounter of a patient. Visits are opened by
// registration; this module reads them and completes them.
type Visit struct {
	ID            uuid.UUID       `json:"id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Consultations []*Consultation `json:"consultations,omitempty"`
}

// Complete moves an open visit to COMPLETED.
func (v *Visit) Complete(now time.Time) error {
	if v.Status == StatusCompleted {
		return fmt.Errorf("visit %s already completed: %w", v.ID, ErrInvalidTransition)
	}
	v.Status = StatusCompleted
	v.CompletedAt = &now
	v.UpdatedAt = now
	return nil
}

type Consultation struct {
	ID          uuid.UUID          `json:"id"`
	VisitID     uuid.UUID          `json:"visit_id"`
	Status      ConsultationStatus `json:"status"`
	CreatedBy   string             `json:"created_by"`
	SourceOrder *uuid.UUID         `json:"source_order,omitempty"` // CONSULTATION order that requested it
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	ClosedAt    *time.Time         `json:"closed_at,omitempty"`
}

// NewConsultation returns a PENDING consultation for the visit.
func NewConsultation(visitID uuid.UUID, createdBy string, now time.Time) *Consultation {
	return &Consultation{
		ID:        uuid.New(),
		VisitID:   visitID,
		Status:    ConsultationPending,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Open is true for PENDING and ACTIVE consultations.
func (c *Consultation) Open() bool {
	return c.Status == ConsultationPending || c.Status == ConsultationActive
}

// UsableFor reports whether c can back an order placed on visitID.
func (c *Consultation) UsableFor(visitID uuid.UUID) bool {
	return c != nil && c.VisitID == visitID && c.Open()
}

// Activate moves PENDING to ACTIVE. It reports whether anything changed.
func (c *Consultation) Activate(now time.Time) (bool, error) {
	switch c.Status {
	case ConsultationActive:
		return false, nil
	case ConsultationPending:
		c.Status = ConsultationActive
		c.StartedAt = &now
		c.UpdatedAt = now
		return true, nil
	default:
		return false, fmt.Errorf("consultation %s is %s: %w", c.ID, c.Status, ErrInvalidTransition)
	}
}

func (c *Consultation) Close(now time.Time) error {
	if c.Status == ConsultationClosed {
		return fmt.Errorf("consultation %s already closed: %w", c.ID, ErrInvalidTransition)
	}
	c.Status = ConsultationClosed
	c.ClosedAt = &now
	c.UpdatedAt = now
	return nil
}
