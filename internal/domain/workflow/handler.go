package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/orders"
	"github.com/ehr/servicegate/internal/platform/auth"
)

// ActingRoleHeader picks one of the caller's held roles for a request.
const ActingRoleHeader = "X-Acting-Role"

const maxLockCodes = 50

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/services")
	g.POST("/:visit_id/order", h.PlaceOrder)
	g.GET("/:visit_id/lock", h.CheckLock)
	g.GET("/:visit_id/locks", h.CheckLocks)
}

type placeOrderRequest struct {
	ServiceCode    string          `json:"service_code"`
	ConsultationID *uuid.UUID      `json:"consultation_id"`
	Payload        json.RawMessage `json:"payload"`
}

type denialBody struct {
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message"`
}

func (h *Handler) PlaceOrder(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("visit_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var req placeOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ServiceCode = strings.TrimSpace(req.ServiceCode)
	if req.ServiceCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "service_code is required")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}

	p, err := h.svc.PlaceOrder(c.Request().Context(), PlaceOrderRequest{
		ServiceCode:    req.ServiceCode,
		VisitID:        visitID,
		ConsultationID: req.ConsultationID,
		Actor:          actor,
		Payload:        req.Payload,
	})
	var denial *Denial
	if errors.As(err, &denial) {
		return c.JSON(HTTPStatus(denial.Result.ReasonCode), denialBody{
			ReasonCode: string(denial.Result.ReasonCode),
			Message:    denial.Result.Message,
		})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) CheckLock(c echo.Context) error {
	q, err := lockQuery(c)
	if err != nil {
		return err
	}
	q.ServiceCode = strings.TrimSpace(c.QueryParam("service_code"))
	if q.ServiceCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "service_code is required")
	}
	res, err := h.svc.CheckLock(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CheckLocks(c echo.Context) error {
	q, err := lockQuery(c)
	if err != nil {
		return err
	}
	var codes []string
	for _, raw := range c.QueryParams()["service_code"] {
		for _, code := range strings.Split(raw, ",") {
			if code = strings.TrimSpace(code); code != "" {
				codes = append(codes, code)
			}
		}
	}
	if len(codes) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one service_code is required")
	}
	if len(codes) > maxLockCodes {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("at most %d service codes per request", maxLockCodes))
	}
	results, err := h.svc.CheckLocks(c.Request().Context(), q, codes)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": results})
}

func lockQuery(c echo.Context) (LockQuery, error) {
	var q LockQuery
	visitID, err := uuid.Parse(c.Param("visit_id"))
	if err != nil {
		return q, echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	q.VisitID = visitID
	if raw := c.QueryParam("consultation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
		}
		q.ConsultationID = &id
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return q, err
	}
	q.Role = actor.Role
	return q, nil
}

// actorFromContext resolves the acting role from the authenticated roles. The
// acting role header must name a held role; without it the first recognised
// held role acts. A caller with no recognised role acts with none and the gate
// denies by role.
func actorFromContext(c echo.Context) (orders.Actor, error) {
	ctx := c.Request().Context()
	actor := orders.Actor{ID: auth.UserIDFromContext(ctx)}
	held := auth.RolesFromContext(ctx)

	if raw := strings.TrimSpace(c.Request().Header.Get(ActingRoleHeader)); raw != "" {
		role, err := catalog.ParseRole(raw)
		if err != nil {
			return actor, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if !auth.HasRole(held, string(role)) {
			return actor, echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("role %s is not held by the caller", role))
		}
		actor.Role = role
		return actor, nil
	}
	for _, name := range held {
		if role, err := catalog.ParseRole(name); err == nil {
			actor.Role = role
			break
		}
	}
	return actor, nil
}
