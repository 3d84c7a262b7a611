package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ehr/servicegate/internal/domain/catalog"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so callers see what they sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Constructor turns a raw payload into validated Details for one department.
type Constructor interface {
	Kind() Kind
	Decode(raw json.RawMessage) (Details, error)
	// Validate returns the json names of missing or invalid fields.
	Validate(d Details) []string
}

type variant struct {
	kind  Kind
	blank func() Details
	extra func(d Details) []string
}

func (v variant) Kind() Kind { return v.kind }

func (v variant) Decode(raw json.RawMessage) (Details, error) {
	d := v.blank()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return d, nil
	}
	if err := json.Unmarshal(trimmed, d); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", v.kind, err)
	}
	return d, nil
}

func (v variant) Validate(d Details) []string {
	if d == nil || d.Kind() != v.kind {
		return []string{"payload"}
	}
	d.normalize()

	var fields []string
	seen := make(map[string]bool)
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []string{"payload"}
		}
		for _, fe := range verrs {
			add(fe.Field())
		}
	}
	if v.extra != nil {
		for _, f := range v.extra(d) {
			add(f)
		}
	}
	return fields
}

// ConstructorFor picks the constructor for the entry's department.
func ConstructorFor(e *catalog.Entry) (Constructor, error) {
	switch e.Department {
	case catalog.DepartmentLab:
		return variant{kind: KindLab, blank: func() Details { return &LabDetails{} }}, nil
	case catalog.DepartmentRadiology:
		return variant{kind: KindRadiology, blank: func() Details { return &RadiologyDetails{} }}, nil
	case catalog.DepartmentPharmacy:
		return variant{kind: KindPrescription, blank: func() Details { return &PrescriptionDetails{} }}, nil
	case catalog.DepartmentProcedure:
		exempt := catalog.IsRegistrationClass(e)
		return variant{
			kind:  KindProcedure,
			blank: func() Details { return &ProcedureDetails{} },
			extra: func(d Details) []string {
				if !exempt && d.(*ProcedureDetails).ProcedureName == "" {
					return []string{"procedure_name"}
				}
				return nil
			},
		}, nil
	case catalog.DepartmentRegistration:
		return variant{kind: KindRegistration, blank: func() Details { return &RegistrationDetails{} }}, nil
	case catalog.DepartmentConsultation:
		return variant{kind: KindConsultation, blank: func() Details { return &ConsultationDetails{} }}, nil
	case catalog.DepartmentMisc:
		return variant{kind: KindMisc, blank: func() Details { return &MiscDetails{} }}, nil
	default:
		return nil, fmt.Errorf("no order constructor for department %q", e.Department)
	}
}

// DecodeDetails rebuilds stored details from their kind.
func DecodeDetails(kind Kind, raw json.RawMessage) (Details, error) {
	dept, ok := kindDepartments[kind]
	if !ok {
		return nil, fmt.Errorf("unknown order kind %q", kind)
	}
	c, err := ConstructorFor(&catalog.Entry{Department: dept})
	if err != nil {
		return nil, err
	}
	return c.Decode(raw)
}
