package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := AuthMiddleware(next)

	tests := []struct {
		name     string
		path     string
		cookie   string
		wantCode int
	}{
		{"login open", "/login", "", http.StatusOK},
		{"auth open", "/auth/login", "", http.StatusOK},
		{"health open", "/healthz", "", http.StatusOK},
		{"api unauthorized", "/api/status", "", http.StatusUnauthorized},
		{"page redirects", "/stream", "", http.StatusSeeOther},
		{"wrong cookie", "/api/status", "false", http.StatusUnauthorized},
		{"authenticated", "/api/status", "true", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AuthCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}
