package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role names as they appear in token claims. The workflow gate parses them
// into its own closed set; these are only for route-level guards.
const (
	RoleAdmin        = "ADMIN"
	RoleBilling      = "BILLING"
	RoleDoctor       = "DOCTOR"
	RoleNurse        = "NURSE"
	RoleReceptionist = "RECEPTIONIST"
)

// HasRole compares case-insensitively.
func HasRole(held []string, role string) bool {
	for _, h := range held {
		if strings.EqualFold(h, role) {
			return true
		}
	}
	return false
}

// RequireRole guards administrative routes. ADMIN passes every guard. Clinical
// actions are not guarded here; the workflow gate decides those per service.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			held := RolesFromContext(c.Request().Context())
			if HasRole(held, RoleAdmin) {
				return next(c)
			}
			for _, required := range roles {
				if HasRole(held, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
