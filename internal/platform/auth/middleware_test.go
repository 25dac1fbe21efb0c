package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testJWT = JWTConfig{
	Issuer:     "https://lims.test",
	Audience:   "lims-api",
	SigningKey: []byte("test-signing-key-with-enough-bytes"),
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (Principal, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lab-results", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got Principal
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		got = PrincipalFromContext(c.Request().Context())
		return nil
	})(c)
	return got, err
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	want := Principal{UserID: uuid.New(), Roles: []string{RoleLabTech}}
	token, err := IssueToken(testJWT, want, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	got, err := runJWT(t, testJWT, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != want.UserID {
		t.Errorf("expected user %s, got %s", want.UserID, got.UserID)
	}
	if !got.HasRole(RoleLabTech) {
		t.Errorf("expected lab_tech role, got %v", got.Roles)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired, _ := IssueToken(testJWT, Principal{UserID: uuid.New()}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	otherKey := testJWT
	otherKey.SigningKey = []byte("a-different-signing-key-entirely")
	forged, _ := IssueToken(otherKey, Principal{UserID: uuid.New()}, jwt.RegisteredClaims{})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-token"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + forged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, testJWT, tt.header)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %v", err)
			}
		})
	}
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid", Issuer: testJWT.Issuer, Audience: jwt.ClaimStrings{testJWT.Audience}},
	})
	signed, _ := token.SignedString(testJWT.SigningKey)

	if _, err := runJWT(t, testJWT, "Bearer "+signed); err == nil {
		t.Fatal("expected error for non-uuid subject")
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := testJWT
	cfg.Skipper = func(echo.Context) bool { return true }
	got, err := runJWT(t, cfg, "")
	if err != nil {
		t.Fatalf("skipped route should pass: %v", err)
	}
	if !got.IsZero() {
		t.Error("skipped route should carry no principal")
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	var got Principal
	err := DevAuthMiddleware()(func(c echo.Context) error {
		got = PrincipalFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != DevUserID || !got.HasRole(RoleAdmin) {
		t.Errorf("expected dev admin principal, got %+v", got)
	}
}
