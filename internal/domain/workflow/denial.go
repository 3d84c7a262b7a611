package workflow

import (
	"net/http"

	"github.com/ehr/servicegate/internal/domain/gate"
)

// Denial is returned by PlaceOrder when the gate, payload validation or
// duplicate detection refuses an order. Nothing has been written.
type Denial struct {
	Result gate.Result
}

func (d *Denial) Error() string {
	return string(d.Result.ReasonCode) + ": " + d.Result.Message
}

func deny(res gate.Result) *Denial { return &Denial{Result: res} }

var reasonStatus = map[gate.ReasonCode]int{
	gate.ReasonServiceNotFound:        http.StatusNotFound,
	gate.ReasonVisitRequired:          http.StatusConflict,
	gate.ReasonRoleNotAllowed:         http.StatusForbidden,
	gate.ReasonConsultationRequired:   http.StatusConflict,
	gate.ReasonPaymentRequired:        http.StatusPaymentRequired,
	gate.ReasonAdditionalDataRequired: http.StatusUnprocessableEntity,
	gate.ReasonDuplicateOrder:         http.StatusConflict,
}

// HTTPStatus maps a denial reason to its response status.
func HTTPStatus(code gate.ReasonCode) int {
	if s, ok := reasonStatus[code]; ok {
		return s
	}
	return http.StatusBadRequest
}
