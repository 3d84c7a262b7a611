package visit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/servicegate/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/visits/:id", h.GetVisit)

	clinical := api.Group("/visits", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clinical.POST("/:id/consultations/:consultation_id/start", h.StartConsultation)
	clinical.POST("/:id/consultations/:consultation_id/close", h.CloseConsultation)

	closing := api.Group("/visits", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	closing.POST("/:id/complete", h.CompleteVisit)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) StartConsultation(c echo.Context) error {
	visitID, consultationID, err := pathIDs(c)
	if err != nil {
		return err
	}
	cons, err := h.svc.StartConsultation(c.Request().Context(), visitID, consultationID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) CloseConsultation(c echo.Context) error {
	visitID, consultationID, err := pathIDs(c)
	if err != nil {
		return err
	}
	cons, err := h.svc.CloseConsultation(c.Request().Context(), visitID, consultationID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) CompleteVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	v, err := h.svc.CompleteVisit(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func pathIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	consultationID, err := uuid.Parse(c.Param("consultation_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}
	return visitID, consultationID, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "visit or consultation not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
