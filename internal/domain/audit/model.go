package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ActionOrderCreated        = "order.created"
	ActionOrderDenied         = "order.denied"
	ActionConsultationStarted = "consultation.started"
	ActionConsultationClosed  = "consultation.closed"
	ActionVisitCompleted      = "visit.completed"
	ActionPaymentApplied      = "billing.payment_applied"
	ActionLineItemAdjusted    = "billing.adjusted"
	ActionCatalogPublished    = "catalog.published"
)

// Entry is one row of the audit trail. Entries are never updated or deleted.
type Entry struct {
	ID           uuid.UUID              `json:"id"`
	Actor        string                 `json:"actor"`
	Role         string                 `json:"role"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	RecordedAt   time.Time              `json:"recorded_at"`
}

// Appender is the only write path into the audit trail. Implementations write
// inside the transaction carried by ctx when there is one.
type Appender interface {
	Append(ctx context.Context, e *Entry) error
}

type Filter struct {
	ResourceType string
	ResourceID   string
	Action       string
	Actor        string
}

type Reader interface {
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, int, error)
}

func (e *Entry) prepare(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = now.UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
}
