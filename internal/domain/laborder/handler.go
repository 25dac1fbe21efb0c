package laborder

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/validation"
	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Submission and withdrawal: patients and front desk
	submit := api.Group("/test-requests", auth.RequireRole(auth.RolePatient, auth.RoleReceptionist))
	submit.POST("", h.SubmitRequest)
	submit.POST("/:id/cancel", h.CancelRequest)

	// Review: staff
	review := api.Group("/test-requests", auth.RequireRole(auth.StaffRoles...))
	review.GET("", h.ListRequests)
	review.GET("/:id", h.GetRequest)
	review.POST("/:id/approve", h.Approve)
	review.POST("/:id/reject", h.Reject)

	orders := api.Group("/lab-orders", auth.RequireRole(auth.RoleLabTech, auth.RolePathologist, auth.RoleReceptionist, auth.RolePhysician))
	orders.GET("/:id", h.GetOrder)

	tracking := api.Group("", auth.RequireRole(auth.RoleLabTech, auth.RolePathologist))
	tracking.PUT("/order-tests/:id/status", h.UpdateOrderTestStatus)
	tracking.POST("/lab-orders/:id/recompute", h.RecomputeOrder)
}

// -- TestRequest Handlers --

func (h *Handler) SubmitRequest(c echo.Context) error {
	var in SubmitRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	req, err := h.svc.SubmitRequest(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := strings.ToUpper(c.QueryParam("status"))
	items, total, err := h.svc.ListRequests(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	res, err := h.svc.Approve(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in RejectInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	req, err := h.svc.Reject(ctx, auth.PrincipalFromContext(ctx), id, in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) CancelRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	req, err := h.svc.CancelRequest(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

// -- Order Handlers --

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) RecomputeOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	status, err := h.svc.UpdateStatusFromTests(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id.String(), "status": status})
}

func (h *Handler) UpdateOrderTestStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateOrderTestStatusInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	o, err := h.svc.UpdateOrderTestStatus(ctx, auth.PrincipalFromContext(ctx), id, in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func errorResponse(c echo.Context, err error) error {
	if verr, ok := validation.As(err); ok {
		return c.JSON(http.StatusUnprocessableEntity, verr)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, ErrNotOwner.Error())
	case errors.Is(err, ErrAlreadyProcessed):
		return echo.NewHTTPError(http.StatusConflict, ErrAlreadyProcessed.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
