package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/visit"
)

type Kind string

const (
	KindLab          Kind = "LAB_ORDER"
	KindRadiology    Kind = "RADIOLOGY_ORDER"
	KindPrescription Kind = "PRESCRIPTION"
	KindProcedure    Kind = "PROCEDURE_ORDER"
	KindRegistration Kind = "REGISTRATION"
	KindConsultation Kind = "CONSULTATION"
	KindMisc         Kind = "MISC_ORDER"
)

var kindDepartments = map[Kind]catalog.Department{
	KindLab:          catalog.DepartmentLab,
	KindRadiology:    catalog.DepartmentRadiology,
	KindPrescription: catalog.DepartmentPharmacy,
	KindProcedure:    catalog.DepartmentProcedure,
	KindRegistration: catalog.DepartmentRegistration,
	KindConsultation: catalog.DepartmentConsultation,
	KindMisc:         catalog.DepartmentMisc,
}

type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrDuplicate = errors.New("duplicate order")
)

// Actor is the authenticated user placing an order, acting in one role.
type Actor struct {
	ID   string       `json:"id"`
	Role catalog.Role `json:"role"`
}

type Order struct {
	ID             uuid.UUID    `json:"id"`
	VisitID        uuid.UUID    `json:"visit_id"`
	ConsultationID *uuid.UUID   `json:"consultation_id"`
	ServiceCode    string       `json:"service_code"`
	Kind           Kind         `json:"kind"`
	Status         Status       `json:"status"`
	Details        Details      `json:"details"`
	PayloadHash    string       `json:"payload_hash"`
	OrderedBy      string       `json:"ordered_by"`
	OrderedByRole  catalog.Role `json:"ordered_by_role"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	aux := struct {
		*plain
		Details json.RawMessage `json:"details"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := DecodeDetails(o.Kind, aux.Details)
	if err != nil {
		return err
	}
	o.Details = d
	return nil
}

// PayloadHash is the sha256 of the canonical JSON of validated details.
func PayloadHash(d Details) (string, error) {
	canonical, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s details: %w", d.Kind(), err)
	}
	sum := sha256.Sum256(append([]byte(string(d.Kind())+":"), canonical...))
	return hex.EncodeToString(sum[:]), nil
}

// New builds a REQUESTED order from validated details. Registration-class
// services never reference a consultation.
func New(v *visit.Visit, consultationID *uuid.UUID, e *catalog.Entry, actor Actor, d Details, now time.Time) (*Order, error) {
	hash, err := PayloadHash(d)
	if err != nil {
		return nil, err
	}
	if catalog.IsRegistrationClass(e) {
		consultationID = nil
	}
	return &Order{
		ID:             uuid.New(),
		VisitID:        v.ID,
		ConsultationID: consultationID,
		ServiceCode:    e.Code,
		Kind:           d.Kind(),
		Status:         StatusRequested,
		Details:        d,
		PayloadHash:    hash,
		OrderedBy:      actor.ID,
		OrderedByRole:  actor.Role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
