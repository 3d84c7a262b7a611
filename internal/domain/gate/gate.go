// Package gate decides whether a catalog service may be ordered right now.
// Evaluate is pure: the lock endpoint and order placement call it with the same
// inputs and always get the same Result.
package gate

import (
	"fmt"
	"strings"

	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/payment"
	"github.com/ehr/servicegate/internal/domain/visit"
)

type ReasonCode string

const (
	ReasonAllow                  ReasonCode = "ALLOW"
	ReasonServiceNotFound        ReasonCode = "SERVICE_NOT_FOUND"
	ReasonVisitRequired          ReasonCode = "VISIT_REQUIRED"
	ReasonRoleNotAllowed         ReasonCode = "ROLE_NOT_ALLOWED"
	ReasonConsultationRequired   ReasonCode = "CONSULTATION_REQUIRED"
	ReasonPaymentRequired        ReasonCode = "PAYMENT_REQUIRED"
	ReasonAdditionalDataRequired ReasonCode = "ADDITIONAL_DATA_REQUIRED"
	ReasonDuplicateOrder         ReasonCode = "DUPLICATE_ORDER"
)

// Result is the lock evaluation shown to callers.
type Result struct {
	Allowed    bool       `json:"allowed"`
	ReasonCode ReasonCode `json:"reason_code"`
	Message    string     `json:"message"`
}

// Input is everything a decision may depend on. Visit and Consultation are nil
// when absent.
type Input struct {
	Entry        *catalog.Entry
	Visit        *visit.Visit
	Consultation *visit.Consultation
	Role         catalog.Role
	Payment      payment.State
}

func Allow() Result {
	return Result{Allowed: true, ReasonCode: ReasonAllow, Message: "allowed"}
}

func Deny(code ReasonCode, format string, args ...interface{}) Result {
	return Result{ReasonCode: code, Message: fmt.Sprintf(format, args...)}
}

type check func(in Input) (Result, bool)

// checks run in order; the first denial wins.
var checks = []check{
	checkVisit,
	checkRole,
	checkConsultation,
	checkPayment,
}

func Evaluate(in Input) Result {
	if in.Entry == nil {
		return Deny(ReasonServiceNotFound, "service not found")
	}
	for _, c := range checks {
		if res, denied := c(in); denied {
			return res
		}
	}
	return Allow()
}

func checkVisit(in Input) (Result, bool) {
	e := in.Entry
	if in.Visit == nil {
		return Deny(ReasonVisitRequired, "service %s requires an open visit; the visit was not found", e.Code), true
	}
	if !e.RequiresVisit {
		return Result{}, false
	}
	switch in.Visit.Status {
	case visit.StatusActive:
		return Result{}, false
	case visit.StatusAwaitingPayment:
		if catalog.IsRegistrationClass(e) {
			return Result{}, false
		}
	}
	return Deny(ReasonVisitRequired, "service %s cannot be ordered while the visit is %s", e.Code, in.Visit.Status), true
}

func checkRole(in Input) (Result, bool) {
	e := in.Entry
	if e.AllowedRoles.Has(in.Role) {
		return Result{}, false
	}
	role := string(in.Role)
	if role == "" {
		role = "(none)"
	}
	return Deny(ReasonRoleNotAllowed, "role %s may not order %s; allowed roles: %s",
		role, e.Code, strings.Join(e.AllowedRoles.Strings(), ", ")), true
}

func checkConsultation(in Input) (Result, bool) {
	e := in.Entry
	if !e.RequiresConsultation || catalog.IsRegistrationClass(e) {
		return Result{}, false
	}
	c := in.Consultation
	switch {
	case c == nil:
		return Deny(ReasonConsultationRequired, "service %s requires an active consultation; none was given", e.Code), true
	case c.VisitID != in.Visit.ID:
		return Deny(ReasonConsultationRequired, "consultation %s does not belong to this visit", c.ID), true
	case !c.Open():
		return Deny(ReasonConsultationRequired, "service %s requires an active consultation; consultation %s is %s", e.Code, c.ID, c.Status), true
	}
	return Result{}, false
}

func checkPayment(in Input) (Result, bool) {
	e := in.Entry
	if e.BillTiming != catalog.BillBefore || in.Payment.Cleared {
		return Result{}, false
	}
	return Deny(ReasonPaymentRequired, "service %s must be paid before it is rendered (%s %s)",
		e.Code, e.Amount.StringFixed(2), e.Currency), true
}
