package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ehr/servicegate/internal/platform/auth"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/billing", auth.RequireRole(auth.RoleBilling))
	g.GET("/visits/:visit_id/line-items", h.ListVisitLineItems)
	g.GET("/line-items/:id", h.GetLineItem)
	g.POST("/line-items/:id/payments", h.ApplyPayment)
	g.PATCH("/line-items/:id", h.Adjust)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type visitLineItems struct {
	VisitID uuid.UUID       `json:"visit_id"`
	Items   []*LineItem     `json:"items"`
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) ListVisitLineItems(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("visit_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	items, err := h.ledger.ListByVisit(c.Request().Context(), visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := visitLineItems{VisitID: visitID, Items: items, Total: decimal.Zero, Paid: decimal.Zero}
	if resp.Items == nil {
		resp.Items = []*LineItem{}
	}
	for _, li := range items {
		resp.Total = resp.Total.Add(li.Amount)
		resp.Paid = resp.Paid.Add(li.PaidAmount)
	}
	resp.Balance = resp.Total.Sub(resp.Paid)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetLineItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid line item id")
	}
	li, err := h.ledger.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, li)
}

func (h *Handler) ApplyPayment(c echo.Context) error {
	id, req, err := bindAmount(c)
	if err != nil {
		return err
	}
	li, err := h.ledger.ApplyPayment(c.Request().Context(), id, req.Amount)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, li)
}

func (h *Handler) Adjust(c echo.Context) error {
	id, req, err := bindAmount(c)
	if err != nil {
		return err
	}
	li, err := h.ledger.Adjust(c.Request().Context(), id, req.Amount)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, li)
}

func bindAmount(c echo.Context) (uuid.UUID, amountRequest, error) {
	var req amountRequest
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, req, echo.NewHTTPError(http.StatusBadRequest, "invalid line item id")
	}
	if err := c.Bind(&req); err != nil {
		return uuid.Nil, req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return id, req, nil
}

func mapError(err error) error {
	var violation *InvariantViolation
	switch {
	case errors.As(err, &violation):
		return echo.NewHTTPError(http.StatusInternalServerError, "internal billing error")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "line item not found")
	case errors.Is(err, ErrInvalidAmount):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
