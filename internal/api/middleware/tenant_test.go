package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SolLabsHQ/solserver/internal/api/middleware"
)

func TestInternalTokenGuard_Disabled(t *testing.T) {
	handler := middleware.InternalTokenGuard("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/topology", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("disabled guard: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestInternalTokenGuard_MissingHeader(t *testing.T) {
	handler := middleware.InternalTokenGuard("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/topology", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestInternalTokenGuard_MismatchedHeader(t *testing.T) {
	handler := middleware.InternalTokenGuard("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/topology", nil)
	req.Header.Set("x-sol-internal-token", "wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("mismatched header: status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestInternalTokenGuard_ValidHeader(t *testing.T) {
	handler := middleware.InternalTokenGuard("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/topology", nil)
	req.Header.Set("x-sol-internal-token", "secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("valid header: status = %d, want %d", w.Code, http.StatusOK)
	}
}
