package obs_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/admin-guard/internal/obs"
)

func TestMetricsExposed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs.Init()
	obs.Init()

	obs.GuardDecision("mutation", "ok")
	obs.RateLimitRejected("sessions.revoke")
	obs.AuditWriteFailed(true)
	obs.SecurityAlert("BRUTE_FORCE_DETECTED", "critical")
	obs.EdgeClients(7)

	r := gin.New()
	r.Use(obs.Instrument())
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		`guard_decisions_total{guard="mutation",outcome="ok"}`,
		`ratelimit_rejections_total{key="sessions.revoke"}`,
		`audit_write_failures_total{fail_closed="true"}`,
		`security_alerts_total{severity="critical",type="BRUTE_FORCE_DETECTED"}`,
		"edge_throttle_clients 7",
	} {
		require.True(t, strings.Contains(body, name), name)
	}
}
