package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Department selects which order constructor handles a service.
type Department string

const (
	DepartmentLab          Department = "LAB"
	DepartmentRadiology    Department = "RADIOLOGY"
	DepartmentPharmacy     Department = "PHARMACY"
	DepartmentProcedure    Department = "PROCEDURE"
	DepartmentRegistration Department = "REGISTRATION"
	DepartmentConsultation Department = "CONSULTATION"
	DepartmentMisc         Department = "MISC"
)

var departments = map[Department]bool{
	DepartmentLab: true, DepartmentRadiology: true, DepartmentPharmacy: true,
	DepartmentProcedure: true, DepartmentRegistration: true, DepartmentConsultation: true,
	DepartmentMisc: true,
}

func (d Department) Valid() bool { return departments[d] }

// BillTiming says whether payment must clear before the service is rendered.
type BillTiming string

const (
	BillBefore BillTiming = "BEFORE"
	BillAfter  BillTiming = "AFTER"
)

func (b BillTiming) Valid() bool { return b == BillBefore || b == BillAfter }

// Role is the closed set of staff roles that may act on a service.
type Role string

const (
	RoleDoctor        Role = "DOCTOR"
	RoleNurse         Role = "NURSE"
	RoleReceptionist  Role = "RECEPTIONIST"
	RoleLabTechnician Role = "LAB_TECHNICIAN"
	RoleRadiologist   Role = "RADIOLOGIST"
	RolePharmacist    Role = "PHARMACIST"
	RoleBilling       Role = "BILLING"
	RoleAdmin         Role = "ADMIN"
)

// AllRoles lists every role in display order.
var AllRoles = []Role{
	RoleDoctor, RoleNurse, RoleReceptionist, RoleLabTechnician,
	RoleRadiologist, RolePharmacist, RoleBilling, RoleAdmin,
}

// ParseRole accepts any casing and surrounding whitespace. Unknown names fail.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Sorted returns the members in AllRoles order so messages are stable.
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range AllRoles {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RoleSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = string(r)
	}
	return out
}

// Entry is a published, orderable service definition.
type Entry struct {
	Code                 string          `json:"code"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	Department           Department      `json:"department"`
	WorkflowType         string          `json:"workflow_type"`
	RequiresVisit        bool            `json:"requires_visit"`
	RequiresConsultation bool            `json:"requires_consultation"`
	AllowedRoles         RoleSet         `json:"-"`
	AutoBill             bool            `json:"auto_bill"`
	BillTiming           BillTiming      `json:"bill_timing"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PublishedAt          *time.Time      `json:"published_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (e *Entry) Published() bool { return e.PublishedAt != nil }

// entryJSON carries allowed_roles as a sorted string list.
type entryJSON struct {
	Code                 string          `json:"code"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	Department           Department      `json:"department"`
	WorkflowType         string          `json:"workflow_type"`
	RequiresVisit        bool            `json:"requires_visit"`
	RequiresConsultation bool            `json:"requires_consultation"`
	AllowedRoles         []string        `json:"allowed_roles"`
	AutoBill             bool            `json:"auto_bill"`
	BillTiming           BillTiming      `json:"bill_timing"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PublishedAt          *time.Time      `json:"published_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		Code: e.Code, Name: e.Name, Description: e.Description, Department: e.Department,
		WorkflowType: e.WorkflowType, RequiresVisit: e.RequiresVisit,
		RequiresConsultation: e.RequiresConsultation, AllowedRoles: e.AllowedRoles.Strings(),
		AutoBill: e.AutoBill, BillTiming: e.BillTiming, Amount: e.Amount, Currency: e.Currency,
		PublishedAt: e.PublishedAt, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	roles := make(RoleSet, len(raw.AllowedRoles))
	for _, name := range raw.AllowedRoles {
		r, err := ParseRole(name)
		if err != nil {
			return err
		}
		roles[r] = struct{}{}
	}
	*e = Entry{
		Code: raw.Code, Name: raw.Name, Description: raw.Description, Department: raw.Department,
		WorkflowType: raw.WorkflowType, RequiresVisit: raw.RequiresVisit,
		RequiresConsultation: raw.RequiresConsultation, AllowedRoles: roles,
		AutoBill: raw.AutoBill, BillTiming: raw.BillTiming, Amount: raw.Amount, Currency: raw.Currency,
		PublishedAt: raw.PublishedAt, CreatedAt: raw.CreatedAt, UpdatedAt: raw.UpdatedAt,
	}
	return nil
}

// Validate checks the fields an administrator must supply.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Code) == "" {
		return fmt.Errorf("code is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !e.Department.Valid() {
		return fmt.Errorf("invalid department: %q", e.Department)
	}
	if !e.BillTiming.Valid() {
		return fmt.Errorf("invalid bill_timing: %q", e.BillTiming)
	}
	if len(e.AllowedRoles) == 0 {
		return fmt.Errorf("allowed_roles must not be empty")
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative")
	}
	return nil
}
