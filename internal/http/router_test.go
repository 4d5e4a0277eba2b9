package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/access"
	"github.com/smallbiznis/admin-guard/internal/adapter/geo"
	"github.com/smallbiznis/admin-guard/internal/adapter/memory"
	"github.com/smallbiznis/admin-guard/internal/audit"
	"github.com/smallbiznis/admin-guard/internal/config"
	"github.com/smallbiznis/admin-guard/internal/csrf"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/guard"
	"github.com/smallbiznis/admin-guard/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/admin-guard/internal/http/middleware"
	"github.com/smallbiznis/admin-guard/internal/middleware"
	"github.com/smallbiznis/admin-guard/internal/password"
	"github.com/smallbiznis/admin-guard/internal/permission"
	"github.com/smallbiznis/admin-guard/internal/ratelimit"
	"github.com/smallbiznis/admin-guard/internal/reputation"
	"github.com/smallbiznis/admin-guard/internal/session"
)

const (
	publicOrigin = "https://admin.example.com"
	adminEmail   = "root@example.com"
	viewerEmail  = "viewer@example.com"
	secret       = "pw-for-tests"
)

var fastHash = password.Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type app struct {
	engine     *gin.Engine
	audits     *memory.AuditLogStore
	events     *memory.SecurityLog
	identities *memory.IdentityStore
}

func newApp(t *testing.T, policy access.Policy) *app {
	t.Helper()
	return newAppWithConfig(t, policy, nil)
}

func newAppWithConfig(t *testing.T, policy access.Policy, configure func(*config.Config)) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	identities := memory.NewIdentityStore()
	ctx := context.Background()
	hash, err := password.HashWithParams(secret, fastHash)
	require.NoError(t, err)
	for _, u := range []domain.User{
		{ID: "u-admin", Email: adminEmail, Name: "Root", PasswordHash: hash},
		{ID: "u-viewer", Email: viewerEmail, Name: "Viewer", PasswordHash: hash},
	} {
		_, err := identities.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	_, err = identities.UpsertRole(ctx, domain.Role{ID: "r-admin", Name: "admin", Permissions: []string{"*"}})
	require.NoError(t, err)
	_, err = identities.UpsertRole(ctx, domain.Role{ID: "r-viewer", Name: "viewer", Permissions: []string{handler.PermSessionsRead}})
	require.NoError(t, err)
	require.NoError(t, identities.AssignRole(ctx, "u-admin", "r-admin"))
	require.NoError(t, identities.AssignRole(ctx, "u-viewer", "r-viewer"))

	audits := memory.NewAuditLogStore()
	securityLog := memory.NewSecurityLog()
	sessions := session.NewManager(memory.NewSessionStore(), node, session.Config{}, logger)
	engine := reputation.NewEngine(reputation.Deps{
		Events:      securityLog,
		Alerts:      securityLog,
		Reputations: memory.NewReputationStore(nil),
		Node:        node,
		Logger:      logger,
	}, reputation.DefaultThresholds())
	writer := audit.NewWriter(audits, node, logger, nil)
	limiter := ratelimit.New(memory.NewCounterStore(), logger)
	protector := csrf.New("csrf-secret", false)
	checker := access.NewChecker(policy, geo.HeaderLookup{}, logger)

	g, err := guard.New(guard.Deps{
		Resolver:    permission.NewResolver(identities, logger),
		CSRF:        protector,
		Origin:      guard.NewOriginChecker(publicOrigin),
		Environment: checker,
		Limiter:     limiter,
		Audit:       writer,
		Snapshots:   guard.NewSnapshotRegistry(logger),
		Events:      engine,
		Logger:      logger,
	})
	require.NoError(t, err)

	cfg := config.Config{ServiceName: "admin-guard", CountryHeader: "CF-IPCountry", SessionCookieName: "admin_session"}
	if configure != nil {
		configure(&cfg)
	}
	r := NewRouter(cfg, logger, g,
		&httpmiddleware.Sessions{Manager: sessions, Identities: identities, CookieName: cfg.SessionCookieName, Logger: logger},
		middleware.NewEdgeThrottle(6000, logger),
		&handler.AuthHandler{
			Identities: identities,
			Sessions:   sessions,
			Events:     engine,
			Limiter:    limiter,
			CSRF:       protector,
			CookieName: cfg.SessionCookieName,
			HashParams: fastHash,
			Logger:     logger,
		},
		&handler.AdminHandler{Sessions: sessions, Audit: writer, Reputation: engine},
	)
	return &app{engine: r, audits: audits, events: securityLog, identities: identities}
}

type login struct {
	Token     string         `json:"token"`
	CSRFToken string         `json:"csrfToken"`
	Session   domain.Session `json:"session"`
}

func (a *app) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *app) login(t *testing.T, email, pw, remote string) (*httptest.ResponseRecorder, login) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": pw})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := a.do(req)
	var out login
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func authed(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Session "+token)
	return req
}

func mutation(method, path string, l login) *http.Request {
	req := authed(method, path, l.Token)
	req.Header.Set("Origin", publicOrigin)
	req.Header.Set(csrf.HeaderName, l.CSRFToken)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: l.CSRFToken})
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) guard.ErrorPayload {
	t.Helper()
	var body guard.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealthAndMetrics(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	w := a.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "http_requests_total")

	w = a.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, guard.CodeNotFound, errorCode(t, w).Code)
}

func TestLoginSetsCookiesAndSessionWorks(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	w, l := a.login(t, adminEmail, secret, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, l.Token)
	require.NotEmpty(t, l.CSRFToken)

	cookies := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Equal(t, l.Token, cookies["admin_session"].Value)
	require.True(t, cookies["admin_session"].HttpOnly)
	require.Equal(t, l.CSRFToken, cookies[csrf.CookieName].Value)

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	req.AddCookie(cookies["admin_session"])
	w = a.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store, max-age=0", w.Header().Get("Cache-Control"))
	require.NotEmpty(t, w.Header().Get(guard.HeaderRequestID))

	var out struct {
		Sessions      []domain.Session `json:"sessions"`
		ActiveCount   int              `json:"activeCount"`
		MaxConcurrent int              `json:"maxConcurrent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Sessions, 1)
	require.Equal(t, 1, out.ActiveCount)
	require.Equal(t, 3, out.MaxConcurrent)

	events := a.events.Events()
	require.NotEmpty(t, events)
	require.Equal(t, domain.EventLoginAttempt, events[0].EventType)
	require.Equal(t, domain.StatusSuccess, events[0].Status)
}

func TestUnauthenticatedAdminRequest(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	w := a.do(httptest.NewRequest(http.MethodGet, "/admin/sessions", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, guard.CodeUnauthorized, errorCode(t, w).Code)
}

func TestRevokeSessionIsAudited(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	_, first := a.login(t, adminEmail, secret, "")
	_, second := a.login(t, adminEmail, secret, "")

	path := "/admin/sessions/" + first.Session.ID

	req := authed(http.MethodDelete, path, second.Token)
	req.Header.Set("Origin", publicOrigin)
	w := a.do(req)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, guard.CodeCSRFViolation, errorCode(t, w).Code)

	w = a.do(mutation(http.MethodDelete, path, second))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	entries := a.audits.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "revoke", entries[0].Action)
	require.Equal(t, "session", entries[0].Resource)
	require.Equal(t, first.Session.ID, entries[0].ResourceID)
	require.Equal(t, "u-admin", entries[0].ActorID)
	before, ok := entries[0].Before.(map[string]any)
	require.True(t, ok)
	require.Equal(t, first.Session.ID, before["id"])

	w = a.do(authed(http.MethodGet, "/admin/sessions", first.Token))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	payload := errorCode(t, w)
	require.Equal(t, guard.CodeSessionInvalid, payload.Code)
	require.Equal(t, domain.SessionRevoked, payload.Details["reason"])

	w = a.do(mutation(http.MethodDelete, path, second))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(authed(http.MethodGet, "/admin/audit-logs?resource=session", second.Token))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), first.Session.ID)
}

func TestRevokeAllUsesActorAsResource(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	_, l := a.login(t, adminEmail, secret, "")

	w := a.do(mutation(http.MethodPost, "/admin/sessions/revoke-all", l))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	entries := a.audits.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "revoke_all", entries[0].Action)
	require.Equal(t, "u-admin", entries[0].ResourceID)
}

func TestViewerIsForbiddenFromAuditLogs(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	_, l := a.login(t, viewerEmail, secret, "")

	w := a.do(authed(http.MethodGet, "/admin/sessions", l.Token))
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(authed(http.MethodGet, "/admin/audit-logs", l.Token))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, guard.CodeForbidden, errorCode(t, w).Code)

	var denied bool
	for _, ev := range a.events.Events() {
		if ev.EventType == domain.EventAccessDenied {
			denied = true
		}
	}
	require.True(t, denied)
}

func TestFailedLoginsRaiseAlert(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	for i := 0; i < 5; i++ {
		w, _ := a.login(t, adminEmail, "wrong", "203.0.113.9:4000")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, _ := a.login(t, "nobody@example.com", "wrong", "203.0.113.10:4000")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	_, l := a.login(t, adminEmail, secret, "")
	w = a.do(authed(http.MethodGet, "/admin/security/alerts", l.Token))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), domain.AlertFailedLoginThreshold)

	w = a.do(authed(http.MethodGet, "/admin/security/reputation/203.0.113.9", l.Token))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "max-age=30, private", w.Header().Get("Cache-Control"))
	var rep domain.IPReputation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	require.Equal(t, 5, rep.FailedAttempts)

	w = a.do(authed(http.MethodGet, "/admin/security/reputation/198.51.100.1", l.Token))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFailedLoginBackoffHint(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	var hints []string
	for i := 0; i < 3; i++ {
		w, _ := a.login(t, adminEmail, "wrong", "203.0.113.20:4000")
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, guard.CodeUnauthorized, errorCode(t, w).Code)
		hints = append(hints, w.Header().Get("Retry-After"))
	}
	require.Equal(t, []string{"1", "2", "4"}, hints)

	w, _ := a.login(t, adminEmail, secret, "203.0.113.21:4000")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Retry-After"))
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	weak := password.Params{Time: 1, Memory: 4 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
	hash, err := password.HashWithParams(secret, weak)
	require.NoError(t, err)
	require.NoError(t, a.identities.UpdatePasswordHash(context.Background(), "u-viewer", hash))

	w, _ := a.login(t, viewerEmail, secret, "")
	require.Equal(t, http.StatusOK, w.Code)

	ident, err := a.identities.GetIdentityByEmail(context.Background(), viewerEmail)
	require.NoError(t, err)
	require.NotEqual(t, hash, ident.User.PasswordHash)
	require.False(t, password.NeedsRehash(ident.User.PasswordHash, fastHash))

	w, _ = a.login(t, viewerEmail, secret, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	_, l := a.login(t, adminEmail, secret, "")

	w := a.do(authed(http.MethodPost, "/auth/logout", l.Token))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(authed(http.MethodGet, "/admin/sessions", l.Token))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.SessionRevoked, errorCode(t, w).Details["reason"])

	w = a.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEnvironmentPolicyBlocksEdge(t *testing.T) {
	policy := access.DefaultPolicy()
	policy.IPAllowlist = access.IPAllowlist{Enabled: true, AllowedCIDRs: []string{"10.0.0.0/8"}}
	a := newApp(t, policy)

	w, _ := a.login(t, adminEmail, secret, "203.0.113.9:4000")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), access.ReasonIPNotAllowed)

	w, _ = a.login(t, adminEmail, secret, "10.1.2.3:4000")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFEndpointIssuesToken(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	w := a.do(httptest.NewRequest(http.MethodGet, "/admin/csrf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out["csrfToken"])
}

func TestForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	policy := access.DefaultPolicy()
	policy.IPAllowlist = access.IPAllowlist{Enabled: true, AllowedCIDRs: []string{"10.0.0.0/8"}}

	spoofed := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/admin/csrf", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", "10.1.2.3")
		return req
	}

	a := newApp(t, policy)
	w := a.do(spoofed())
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "no-store, max-age=0", w.Header().Get("Cache-Control"))
	payload := errorCode(t, w)
	require.Equal(t, guard.CodeAccessDenied, payload.Code)
	require.Equal(t, access.ReasonIPNotAllowed, payload.Details["reason"])

	trusted := newAppWithConfig(t, policy, func(cfg *config.Config) {
		cfg.TrustedProxies = []string{"203.0.113.0/24"}
	})
	w = trusted.do(spoofed())
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSessionRecordsPeerIPFromUntrustedProxy(t *testing.T) {
	a := newApp(t, access.DefaultPolicy())
	body := `{"email":"` + adminEmail + `","password":"` + secret + `"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "10.9.9.9")
	req.RemoteAddr = "198.51.100.30:4000"
	w := a.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var out login
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "198.51.100.30", out.Session.IP)
}

func TestCountryHeaderNeedsTrustedProxy(t *testing.T) {
	policy := access.DefaultPolicy()
	policy.Geo = access.GeoRestrictions{Enabled: true, AllowedCountries: []string{"DE"}}

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/admin/csrf", nil)
		r.RemoteAddr = "198.51.100.7:4000"
		r.Header.Set("CF-IPCountry", "KP")
		return r
	}

	// Without a trusted peer the header is dropped and the country is unknown.
	w := newApp(t, policy).do(req())
	require.Equal(t, http.StatusOK, w.Code)

	trusted := newAppWithConfig(t, policy, func(cfg *config.Config) {
		cfg.TrustedProxies = []string{"198.51.100.7"}
	})
	w = trusted.do(req())
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, access.ReasonCountryNotAllowed, errorCode(t, w).Details["reason"])
}
