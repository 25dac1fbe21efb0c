package labresult

import (
	"context"
	"errors"
	"net/http"

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

// RegisterRoutes mounts staff routes on api and the unauthenticated
// verification routes on public.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	read := api.Group("/lab-results", auth.RequireRole(auth.RoleLabTech, auth.RolePathologist, auth.RoleReceptionist, auth.RolePhysician))
	read.GET("", h.ListResults)
	read.GET("/:id", h.GetResult)

	write := api.Group("/lab-results", auth.RequireRole(auth.RoleLabTech, auth.RolePathologist))
	write.POST("", h.CreateResult)
	write.PUT("/:id", h.UpdateResult)
	write.POST("/:id/serial", h.AssignSerialNumber)
	write.POST("/:id/print", h.MarkAsPrinted)

	revoke := api.Group("/lab-results", auth.RequireRole(auth.RolePathologist))
	revoke.POST("/:id/revoke", h.Revoke)

	public.GET("/verify/lab-result/:serial", h.VerifySerial)
	public.GET("/verify/lab-result", h.VerifyCode)
	public.GET("/certificates/verify", h.VerifyCertificate)
}

// -- Staff Handlers --

func (h *Handler) CreateResult(c echo.Context) error {
	var in CreateResultInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	lr, err := h.svc.CreateResult(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, lr)
}

func (h *Handler) GetResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	lr, err := h.svc.GetResult(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, lr)
}

func (h *Handler) ListResults(c echo.Context) error {
	pid, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListResultsByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateResultInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	lr, err := h.svc.UpdateResult(ctx, auth.PrincipalFromContext(ctx), id, in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, lr)
}

func (h *Handler) AssignSerialNumber(c echo.Context) error {
	return h.command(c, h.svc.AssignSerialNumber)
}

func (h *Handler) Revoke(c echo.Context) error {
	return h.command(c, h.svc.Revoke)
}

func (h *Handler) MarkAsPrinted(c echo.Context) error {
	return h.command(c, h.svc.MarkAsPrinted)
}

func (h *Handler) command(c echo.Context, fn func(ctx context.Context, actor auth.Principal, id uuid.UUID) (*LabResult, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	lr, err := fn(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, lr)
}

// -- Public Verification Handlers --

func (h *Handler) VerifySerial(c echo.Context) error {
	v, err := h.svc.Verify(c.Request().Context(), c.Param("serial"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) VerifyCode(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code query parameter is required")
	}
	v, err := h.svc.VerifyByCode(c.Request().Context(), code)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) VerifyCertificate(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code query parameter is required")
	}
	v, err := h.svc.VerifyCertificate(c.Request().Context(), code)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func errorResponse(c echo.Context, err error) error {
	if verr, ok := validation.As(err); ok {
		return c.JSON(http.StatusUnprocessableEntity, verr)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "lab result not found")
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSerialExhausted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
