package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"slotdesk/internal/config"

	"github.com/stretchr/testify/assert"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "reader", Extra: "r-extra", Permissions: []string{PermReadBookings}},
				{Key: "admin", Extra: "a-extra"},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 200},
	}
}

func serveAuth(auth *HTTPAuth, method, path string, headers map[string]string) int {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	auth.Wrap(ok).ServeHTTP(rec, req)
	return rec.Code
}

func TestHTTPAuth(t *testing.T) {
	auth := NewHTTPAuth(authConfig())
	reader := map[string]string{"x-api-key": "reader", "x-api-extra": "r-extra"}
	admin := map[string]string{"x-api-key": "admin", "x-api-extra": "a-extra"}

	t.Run("Success", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serveAuth(auth, http.MethodGet, "/api/v1/bookings", reader))
	})

	t.Run("MissingHeaders", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serveAuth(auth, http.MethodGet, "/api/v1/bookings", nil))
	})

	t.Run("InvalidKey", func(t *testing.T) {
		h := map[string]string{"x-api-key": "nobody", "x-api-extra": "r-extra"}
		assert.Equal(t, http.StatusUnauthorized, serveAuth(auth, http.MethodGet, "/api/v1/bookings", h))
	})

	t.Run("InvalidExtra", func(t *testing.T) {
		h := map[string]string{"x-api-key": "reader", "x-api-extra": "wrong"}
		assert.Equal(t, http.StatusUnauthorized, serveAuth(auth, http.MethodGet, "/api/v1/bookings", h))
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, serveAuth(auth, http.MethodPost, "/api/v1/bookings", reader))
		assert.Equal(t, http.StatusForbidden, serveAuth(auth, http.MethodGet, "/api/v1/resources", reader))
	})

	t.Run("EmptyPermissionsAllowAll", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serveAuth(auth, http.MethodPost, "/api/v1/resources/barber/blocks", admin))
	})

	t.Run("HealthIsPublic", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serveAuth(auth, http.MethodGet, "/healthz", nil))
	})
}

func TestHTTPAuth_RateLimit(t *testing.T) {
	cfg := authConfig()
	cfg.Auth.Enabled = false
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	auth := NewHTTPAuth(cfg)

	h := map[string]string{"x-api-key": "reader"}
	assert.Equal(t, http.StatusOK, serveAuth(auth, http.MethodGet, "/api/v1/bookings", h))
	assert.Equal(t, http.StatusOK, serveAuth(auth, http.MethodGet, "/api/v1/bookings", h))
	assert.Equal(t, http.StatusTooManyRequests, serveAuth(auth, http.MethodGet, "/api/v1/bookings", h))

	// a different key has its own bucket
	other := map[string]string{"x-api-key": "admin"}
	assert.Equal(t, http.StatusOK, serveAuth(auth, http.MethodGet, "/api/v1/bookings", other))
}

func TestHTTPAuth_Disabled(t *testing.T) {
	cfg := authConfig()
	cfg.Enabled = false
	auth := NewHTTPAuth(cfg)
	assert.Equal(t, http.StatusOK, serveAuth(auth, http.MethodPost, "/api/v1/bookings", nil))
}

func TestRequiredPermission(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v1/bookings/abc", PermReadBookings},
		{http.MethodPost, "/api/v1/bookings/abc/cancel", PermWriteBookings},
		{http.MethodGet, "/api/v1/availability", PermReadBookings},
		{http.MethodGet, "/api/v1/resources/barber", PermReadResources},
		{http.MethodPost, "/api/v1/resources", PermWriteResources},
		{http.MethodGet, "/healthz", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredPermission(req), "%s %s", tt.method, tt.path)
	}
}
