package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newCORSEcho() *echo.Echo {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins: []string{"http://localhost:5173"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType},
		MaxAge:       10 * time.Minute,
	}))
	e.GET("/api/session", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}

func TestCORS(t *testing.T) {
	e := newCORSEcho()

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantCode    int
		wantAllowed string
	}{
		{"allowed origin", http.MethodGet, "http://localhost:5173", false, http.StatusOK, "http://localhost:5173"},
		{"foreign origin passes without headers", http.MethodGet, "https://evil.example", false, http.StatusOK, ""},
		{"no origin", http.MethodGet, "", false, http.StatusOK, ""},
		{"allowed preflight", http.MethodOptions, "http://localhost:5173", true, http.StatusNoContent, "http://localhost:5173"},
		{"foreign preflight", http.MethodOptions, "https://evil.example", true, http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/session", nil)
			if tt.origin != "" {
				req.Header.Set(echo.HeaderOrigin, tt.origin)
			}
			if tt.preflight {
				req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantAllowed, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
			if tt.preflight && tt.wantCode == http.StatusNoContent {
				assert.Equal(t, "GET, POST", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
				assert.Equal(t, "600", rec.Header().Get(echo.HeaderAccessControlMaxAge))
			}
		})
	}
}
