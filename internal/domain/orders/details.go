package orders

import "strings"

// Details is the department-specific part of an order. The set of
// implementations is closed.
type Details interface {
	Kind() Kind
	normalize()
}

type LabDetails struct {
	TestsRequested []string `json:"tests_requested" validate:"required,min=1,dive,required"`
	Specimen       string   `json:"specimen,omitempty"`
	Priority       string   `json:"priority,omitempty" validate:"omitempty,oneof=ROUTINE URGENT STAT"`
	ClinicalNotes  string   `json:"clinical_notes,omitempty"`
}

func (*LabDetails) Kind() Kind { return KindLab }

func (d *LabDetails) normalize() {
	for i, t := range d.TestsRequested {
		d.TestsRequested[i] = strings.TrimSpace(t)
	}
	d.Specimen = strings.TrimSpace(d.Specimen)
	d.Priority = strings.ToUpper(strings.TrimSpace(d.Priority))
}

type RadiologyDetails struct {
	StudyType          string `json:"study_type" validate:"required"`
	BodyPart           string `json:"body_part,omitempty"`
	Laterality         string `json:"laterality,omitempty" validate:"omitempty,oneof=LEFT RIGHT BILATERAL"`
	Contrast           bool   `json:"contrast,omitempty"`
	ClinicalIndication string `json:"clinical_indication,omitempty"`
}

func (*RadiologyDetails) Kind() Kind { return KindRadiology }

func (d *RadiologyDetails) normalize() {
	d.StudyType = strings.TrimSpace(d.StudyType)
	d.BodyPart = strings.TrimSpace(d.BodyPart)
	d.Laterality = strings.ToUpper(strings.TrimSpace(d.Laterality))
}

// PrescriptionDetails has no defaults: every dosing field must come from the
// prescriber.
type PrescriptionDetails struct {
	Medication   string `json:"medication,omitempty"`
	Dosage       string `json:"dosage" validate:"required"`
	Frequency    string `json:"frequency" validate:"required"`
	Duration     string `json:"duration" validate:"required"`
	Instructions string `json:"instructions" validate:"required"`
	Route        string `json:"route,omitempty"`
	Quantity     int    `json:"quantity,omitempty" validate:"gte=0"`
}

func (*PrescriptionDetails) Kind() Kind { return KindPrescription }

func (d *PrescriptionDetails) normalize() {
	d.Medication = strings.TrimSpace(d.Medication)
	d.Dosage = strings.TrimSpace(d.Dosage)
	d.Frequency = strings.TrimSpace(d.Frequency)
	d.Duration = strings.TrimSpace(d.Duration)
	d.Instructions = strings.TrimSpace(d.Instructions)
	d.Route = strings.TrimSpace(d.Route)
}

// ProcedureDetails.ProcedureName is required unless the service is
// registration-class; the constructor enforces that.
type ProcedureDetails struct {
	ProcedureName string `json:"procedure_name,omitempty"`
	Site          string `json:"site,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func (*ProcedureDetails) Kind() Kind { return KindProcedure }

func (d *ProcedureDetails) normalize() {
	d.ProcedureName = strings.TrimSpace(d.ProcedureName)
	d.Site = strings.TrimSpace(d.Site)
}

type RegistrationDetails struct {
	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

func (*RegistrationDetails) Kind() Kind { return KindRegistration }

func (d *RegistrationDetails) normalize() {
	d.Reason = strings.TrimSpace(d.Reason)
}

type ConsultationDetails struct {
	Specialty string `json:"specialty,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (*ConsultationDetails) Kind() Kind { return KindConsultation }

func (d *ConsultationDetails) normalize() {
	d.Specialty = strings.TrimSpace(d.Specialty)
	d.Reason = strings.TrimSpace(d.Reason)
}

type MiscDetails struct {
	Notes string                 `json:"notes,omitempty"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

func (*MiscDetails) Kind() Kind { return KindMisc }

func (d *MiscDetails) normalize() {
	d.Notes = strings.TrimSpace(d.Notes)
}
