package laborder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func asPrincipal(p auth.Principal, method, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_SubmitRequest(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `","purpose":"Follow-up","test_ids":["` + uuid.New().String() + `"]}`
	rec := httptest.NewRecorder()
	c := e.NewContext(asPrincipal(patient, http.MethodPost, body), rec)

	if err := h.SubmitRequest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Approve(t *testing.T) {
	h, f, e := newTestHandler()
	req := f.submit(t, 2)

	rec := httptest.NewRecorder()
	c := e.NewContext(asPrincipal(reviewer, http.MethodPost, ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())

	if err := h.Approve(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var res ApprovalResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.OrderTestIDs) != 2 || !strings.HasPrefix(res.Message, "Lab Test Order #") {
		t.Errorf("unexpected response %s", rec.Body.String())
	}

	c = e.NewContext(asPrincipal(reviewer, http.MethodPost, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())
	if code := httpStatus(t, h.Approve(c)); code != http.StatusConflict {
		t.Errorf("expected 409 on second approval, got %d", code)
	}
}

func TestHandler_Reject_MissingRemarks(t *testing.T) {
	h, f, e := newTestHandler()
	req := f.submit(t, 1)

	rec := httptest.NewRecorder()
	c := e.NewContext(asPrincipal(reviewer, http.MethodPost, `{"remarks":""}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())

	if err := h.Reject(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"remarks":"is required"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CancelRequest_NotOwner(t *testing.T) {
	h, f, e := newTestHandler()
	req := f.submit(t, 1)

	other := auth.Principal{UserID: uuid.New(), Roles: []string{auth.RolePatient}}
	c := e.NewContext(asPrincipal(other, http.MethodPost, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())

	err := h.CancelRequest(c)
	if code := httpStatus(t, err); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
	if msg := err.(*echo.HTTPError).Message; msg != "only the submitter or an admin may cancel a test request" {
		t.Errorf("unexpected message %v", msg)
	}

	admin := auth.Principal{UserID: uuid.New(), Roles: []string{auth.RoleAdmin}}
	c = e.NewContext(asPrincipal(admin, http.MethodPost, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())
	if err := h.CancelRequest(c); err != nil {
		t.Errorf("expected admin to cancel, got %v", err)
	}
}

func TestHandler_GetOrder_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(asPrincipal(reviewer, http.MethodGet, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpStatus(t, h.GetOrder(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_UpdateOrderTestStatus(t *testing.T) {
	h, f, e := newTestHandler()
	o := f.approvedOrder(t, 1)

	rec := httptest.NewRecorder()
	c := e.NewContext(asPrincipal(reviewer, http.MethodPut, `{"status":"completed"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(o.Tests[0].ID.String())

	if err := h.UpdateOrderTestStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got LabTestOrder
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCompleted {
		t.Errorf("expected completed order, got %s", got.Status)
	}

	c = e.NewContext(asPrincipal(reviewer, http.MethodPut, `{"status":"pending"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(o.Tests[0].ID.String())
	if code := httpStatus(t, h.UpdateOrderTestStatus(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_RecomputeOrder(t *testing.T) {
	h, f, e := newTestHandler()
	o := f.approvedOrder(t, 1)
	f.setTestStatus(o.Tests[0].ID, StatusCancelled)

	rec := httptest.NewRecorder()
	c := e.NewContext(asPrincipal(reviewer, http.MethodPost, ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())

	if err := h.RecomputeOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"cancelled"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListRequests_BadStatus(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?status=done", nil)
	c := e.NewContext(req, rec)

	if err := h.ListRequests(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHandler_RoutesRequireRoles(t *testing.T) {
	h, f, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))
	req := f.submit(t, 1)

	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"patient cannot approve", []string{auth.RolePatient}, http.StatusForbidden},
		{"physician cannot approve", []string{auth.RolePhysician}, http.StatusForbidden},
		{"receptionist approves", []string{auth.RoleReceptionist}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/test-requests/"+req.ID.String()+"/approve", nil)
			r = r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{UserID: uuid.New(), Roles: tt.roles}))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, r)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
