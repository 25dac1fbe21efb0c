package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/?limit=50&offset=10"))

	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_Page(t *testing.T) {
	p := FromContext(newContext("/?per_page=15&page=3&offset=7"))

	if p.Limit != 15 {
		t.Errorf("expected limit 15, got %d", p.Limit)
	}
	if p.Offset != 30 {
		t.Errorf("expected page 3 to start at offset 30, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(newContext("/?limit=500"))

	if p.Limit != MaxLimit {
		t.Errorf("expected max limit %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(newContext("/?offset=-5"))

	if p.Offset != 0 {
		t.Errorf("expected offset 0 for negative input, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 10, 2, 4)

	if resp.Total != 10 {
		t.Errorf("expected total 10, got %d", resp.Total)
	}
	if resp.Page != 3 {
		t.Errorf("expected page 3, got %d", resp.Page)
	}
	if !resp.HasMore {
		t.Error("expected HasMore to be true")
	}

	last := NewResponse(nil, 10, 5, 5)
	if last.HasMore {
		t.Error("expected HasMore false on last page")
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		total int
		want  bool
	}{
		{"first page with more", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 20}, 30, false},
		{"empty", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestParams_Page(t *testing.T) {
	if got := (Params{Limit: 10, Offset: 0}).Page(); got != 1 {
		t.Errorf("expected page 1, got %d", got)
	}
	if got := (Params{Limit: 10, Offset: 25}).Page(); got != 3 {
		t.Errorf("expected page 3, got %d", got)
	}
	if got := (Params{}).Page(); got != 1 {
		t.Errorf("expected page 1 for zero limit, got %d", got)
	}
}
