package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/admin-guard/internal/config"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.Any("/admin/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestEdgeThrottleRejectsBurst(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	throttle := NewEdgeThrottle(60, nil).WithClock(func() time.Time { return now })
	r := newEngine(throttle.Handler())

	// 60 rpm gives a burst of 6.
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ping", nil))
		require.Equal(t, http.StatusOK, w.Code, i)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "1", w.Header().Get("Retry-After"))
	require.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	now = now.Add(time.Second)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEdgeThrottleDropsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	throttle := NewEdgeThrottle(60, nil).WithClock(func() time.Time { return now })
	r := newEngine(throttle.Handler())

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.Len(t, throttle.clients, 1)

	now = now.Add(10 * time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.Len(t, throttle.clients, 1)
}

func TestDisabledThrottleIsPassThrough(t *testing.T) {
	var throttle *EdgeThrottle = NewEdgeThrottle(0, nil)
	require.Nil(t, throttle)
	w := httptest.NewRecorder()
	newEngine(throttle.Handler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	cfg := config.Config{
		CORSAllowedOrigins:   []string{"https://Console.example.com/"},
		CORSAllowedMethods:   []string{"GET", "POST"},
		CORSAllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
		CORSAllowCredentials: true,
		CORSMaxAge:           10 * time.Minute,
	}
	r := newEngine(CORS(cfg))

	req := httptest.NewRequest(http.MethodOptions, "/admin/ping", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	require.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
	require.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/admin/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORSWildcardIgnoredWithCredentials(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: []string{"*"}, CORSAllowCredentials: true}
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Origin", "https://random.example")
	w := httptest.NewRecorder()
	newEngine(CORS(cfg)).ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	cfg.CORSAllowCredentials = false
	w = httptest.NewRecorder()
	newEngine(CORS(cfg)).ServeHTTP(w, req)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDisabledWithoutOrigins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Origin", "https://console.example.com")
	w := httptest.NewRecorder()
	newEngine(CORS(config.Config{})).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
