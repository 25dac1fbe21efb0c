package labresult

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/domain/laborder"
	"github.com/lims/lims/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func staffRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithPrincipal(req.Context(), staffActor))
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_CreateResult(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `","test_id":"` + uuid.New().String() + `","result_date":"2026-03-14","result_value":"120 mg/dL"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(staffRequest(http.MethodPost, "/", body), rec)

	if err := h.CreateResult(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var lr LabResult
	_ = json.Unmarshal(rec.Body.Bytes(), &lr)
	if lr.Status != StatusDraft {
		t.Errorf("expected draft, got %s", lr.Status)
	}
}

func TestHandler_CreateResult_ValidationError(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(staffRequest(http.MethodPost, "/", `{"test_id":"`+uuid.New().String()+`"}`), rec)

	if err := h.CreateResult(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Errors["patient_id"] != "is required" {
		t.Errorf("unexpected errors %v", body.Errors)
	}
}

func TestHandler_GetResult_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(staffRequest(http.MethodGet, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpStatus(t, h.GetResult(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetResult_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(staffRequest(http.MethodGet, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if code := httpStatus(t, h.GetResult(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListResults(t *testing.T) {
	h, f, e := newTestHandler()
	lr := f.seedResult(t, StatusFinal)
	f.seedResult(t, StatusDraft)

	rec := httptest.NewRecorder()
	c := e.NewContext(staffRequest(http.MethodGet, "/?patient_id="+lr.PatientID.String(), ""), rec)
	if err := h.ListResults(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Errorf("expected 1 result for the patient, got %d", page.Total)
	}
}

func TestHandler_AssignSerialNumber(t *testing.T) {
	h, f, e := newTestHandler()
	lr := f.seedResult(t, StatusFinal)

	rec := httptest.NewRecorder()
	c := e.NewContext(staffRequest(http.MethodPost, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(lr.ID.String())

	if err := h.AssignSerialNumber(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got LabResult
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.SerialNumber == nil || *got.SerialNumber != "LR-2026-000001" {
		t.Errorf("unexpected serial %v", got.SerialNumber)
	}
}

func TestHandler_AssignSerialNumber_DraftConflict(t *testing.T) {
	h, f, e := newTestHandler()
	lr := f.seedResult(t, StatusDraft)

	c := e.NewContext(staffRequest(http.MethodPost, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(lr.ID.String())

	if code := httpStatus(t, h.AssignSerialNumber(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_UpdateResult_InvalidTransition(t *testing.T) {
	h, f, e := newTestHandler()
	lr := f.seedResult(t, StatusRevised)

	c := e.NewContext(staffRequest(http.MethodPut, "/", `{"status":"final"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(lr.ID.String())

	if code := httpStatus(t, h.UpdateResult(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_UpdateResult_CancelledOrderTestConflict(t *testing.T) {
	h, f, e := newTestHandler()
	f.svc.SetOrderTestCompleter(&stubCompleter{err: fmt.Errorf("%w: cancelled to completed", laborder.ErrInvalidTransition)})

	orderTestID := uuid.New()
	lr, err := f.svc.CreateResult(context.Background(), staffActor, CreateResultInput{PatientID: uuid.New(), TestID: uuid.New(), OrderTestID: &orderTestID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c := e.NewContext(staffRequest(http.MethodPut, "/", `{"status":"final"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(lr.ID.String())

	if code := httpStatus(t, h.UpdateResult(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_VerifySerial(t *testing.T) {
	h, f, e := newTestHandler()
	issued, _ := f.svc.AssignSerialNumber(context.Background(), staffActor, f.seedResult(t, StatusFinal).ID)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("serial")
	c.SetParamValues(*issued.SerialNumber)

	if err := h.VerifySerial(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &v)
	if v["found"] != true || v["valid"] != true || v["status"] != VerificationValid {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_VerifySerial_NotFoundIs200(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("serial")
	c.SetParamValues("LR-2026-000404")

	if err := h.VerifySerial(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"found":false}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_VerifyCode_RequiresCode(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if code := httpStatus(t, h.VerifyCode(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_VerifyCertificate_ByCode(t *testing.T) {
	h, f, e := newTestHandler()
	issued, _ := f.svc.AssignSerialNumber(context.Background(), staffActor, f.seedResult(t, StatusFinal).ID)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?code="+*issued.VerificationCode, nil), rec)
	if err := h.VerifyCertificate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), *issued.SerialNumber) {
		t.Errorf("expected serial in body, got %s", rec.Body.String())
	}
}

func TestHandler_RoutesRequireRoles(t *testing.T) {
	h, f, e := newTestHandler()
	lr := f.seedResult(t, StatusFinal)
	api := e.Group("/api/v1")
	h.RegisterRoutes(api, e.Group(""))

	tests := []struct {
		name   string
		roles  []string
		target string
		want   int
	}{
		{"anonymous", nil, "/api/v1/lab-results/" + lr.ID.String() + "/revoke", http.StatusUnauthorized},
		{"receptionist cannot revoke", []string{auth.RoleReceptionist}, "/api/v1/lab-results/" + lr.ID.String() + "/revoke", http.StatusForbidden},
		{"pathologist revokes", []string{auth.RolePathologist}, "/api/v1/lab-results/" + lr.ID.String() + "/revoke", http.StatusOK},
		{"public verify", nil, "/verify/lab-result/LR-2026-000001", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if strings.HasPrefix(tt.target, "/verify") {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, tt.target, nil)
			if tt.roles != nil {
				req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: uuid.New(), Roles: tt.roles}))
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
