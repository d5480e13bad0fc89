package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		allowed []string
		want    bool
	}{
		{"match", []string{"doctor"}, []string{"doctor", "manager"}, true},
		{"no match", []string{"patient"}, []string{"doctor", "manager"}, false},
		{"admin passes", []string{"admin"}, []string{"manager"}, true},
		{"no roles", nil, []string{"manager"}, false},
		{"nothing allowed", []string{"doctor"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAnyRole(tt.roles, tt.allowed...); got != tt.want {
				t.Errorf("HasAnyRole(%v, %v) = %v, want %v", tt.roles, tt.allowed, got, tt.want)
			}
		})
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u1", []string{"manager"}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole("manager")(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, []string{"patient"}))
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireRole("doctor", "manager")(func(c echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireAuthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequireAuthenticated()(func(c echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
