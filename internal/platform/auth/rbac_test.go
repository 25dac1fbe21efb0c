package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if roles != nil {
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: uuid.New(), Roles: roles}))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := contextWithRoles(RoleLabTech)
	if err := RequireRole(RoleLabTech, RolePathologist)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c, _ := contextWithRoles(RoleAdmin)
	if err := RequireRole(RolePathologist)(okHandler)(c); err != nil {
		t.Fatalf("admin should pass every role check: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	c, _ := contextWithRoles(RolePatient)
	err := RequireRole(StaffRoles...)(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	c, _ := contextWithRoles()
	err := RequireRole(RoleLabTech)(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestPrincipal_HasRole(t *testing.T) {
	p := Principal{UserID: uuid.New(), Roles: []string{RoleReceptionist}}
	if !p.HasRole(RoleLabTech, RoleReceptionist) {
		t.Error("expected receptionist to match")
	}
	if p.HasRole(RolePathologist) {
		t.Error("receptionist is not a pathologist")
	}
	if (Principal{}).HasRole(RoleAdmin) {
		t.Error("zero principal has no roles")
	}
}
