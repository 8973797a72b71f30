package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficeye/internal/auth"
	"trafficeye/internal/timeutil"
)

func protected(t *testing.T, a *auth.Authenticator) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Header().Set("X-User", claims.Username)
		}
		w.WriteHeader(http.StatusOK)
	})
	return AuthMiddleware(a, "/healthz", "/api/auth/login")(next)
}

func TestAuthMiddleware(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	a, err := auth.NewAuthenticator(auth.Options{Enabled: true, Password: "pw", JWTSecret: "k", JWTExpiry: time.Hour, Clock: clock})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	h := protected(t, a)

	tests := []struct {
		name     string
		path     string
		header   string
		upgrade  bool
		wantCode int
		wantUser string
	}{
		{"public health", "/healthz", "", false, http.StatusOK, ""},
		{"public login", "/api/auth/login", "", false, http.StatusOK, ""},
		{"missing header", "/api/violations", "", false, http.StatusUnauthorized, ""},
		{"bad scheme", "/api/violations", "Basic abc", false, http.StatusUnauthorized, ""},
		{"bad token", "/api/violations", "Bearer nope", false, http.StatusUnauthorized, ""},
		{"valid bearer", "/api/violations", "Bearer " + token, false, http.StatusOK, "admin"},
		{"ws query token", "/ws/violations/all?token=" + token, "", true, http.StatusOK, "admin"},
		{"query token without upgrade", "/api/violations?token=" + token, "", false, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantUser, rec.Header().Get("X-User"))
			if tt.wantCode == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}

	clock.Advance(2 * time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	protected(t, a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/violations", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = RequireAuth(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
