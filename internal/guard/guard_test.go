package guard_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/admin-guard/internal/access"
	"github.com/smallbiznis/admin-guard/internal/adapter/memory"
	"github.com/smallbiznis/admin-guard/internal/audit"
	"github.com/smallbiznis/admin-guard/internal/csrf"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/guard"
	"github.com/smallbiznis/admin-guard/internal/reputation"
)

const origin = "https://admin.example.com"

type stubResolver struct {
	mu    sync.Mutex
	calls int
	auth  *domain.AuthContext
}

func (s *stubResolver) Resolve(context.Context, string) (*domain.AuthContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.auth, nil
}

type stubLimiter struct {
	calls int
	err   error
}

func (s *stubLimiter) Enforce(context.Context, string, string, int, time.Duration) error {
	s.calls++
	return s.err
}

type stubEnvironment struct{ decision access.Decision }

func (s stubEnvironment) Check(context.Context, string) access.Decision { return s.decision }

type recordingSink struct{ events []reputation.Event }

func (s *recordingSink) LogEvent(_ context.Context, ev reputation.Event) reputation.Outcome {
	s.events = append(s.events, ev)
	return reputation.Outcome{}
}

type harness struct {
	guard    *guard.Guard
	resolver *stubResolver
	limiter  *stubLimiter
	audits   *memory.AuditLogStore
	sink     *recordingSink
	csrf     *csrf.Protector
	token    string
	router   *gin.Engine
}

func newHarness(t *testing.T, perms ...string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	h := &harness{
		resolver: &stubResolver{auth: &domain.AuthContext{ID: "u1", Email: "ops@example.com", Permissions: domain.NewStringSet(perms...)}},
		limiter:  &stubLimiter{},
		audits:   memory.NewAuditLogStore(),
		sink:     &recordingSink{},
		csrf:     csrf.New("test-secret", false),
	}
	h.token, err = h.csrf.Mint()
	require.NoError(t, err)

	h.guard, err = guard.New(guard.Deps{
		Resolver:  h.resolver,
		CSRF:      h.csrf,
		Origin:    guard.NewOriginChecker(origin),
		Limiter:   h.limiter,
		Audit:     audit.NewWriter(h.audits, node, nil, nil),
		Snapshots: guard.NewSnapshotRegistry(nil),
		Events:    h.sink,
	})
	require.NoError(t, err)

	h.router = gin.New()
	h.router.Use(func(c *gin.Context) {
		if email := c.GetHeader("X-Test-Email"); email != "" {
			guard.SetIdentity(c, guard.Identity{Email: email, SessionError: c.GetHeader("X-Test-Session-Error")})
		}
		c.Next()
	})
	return h
}

func (h *harness) request(method, path, body string, browser bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Test-Email", "ops@example.com")
	if browser {
		req.Header.Set("Origin", origin)
		req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: h.token})
		req.Header.Set(csrf.HeaderName, h.token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) guard.ErrorPayload {
	t.Helper()
	var body guard.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func okHandler(data any) guard.Handler {
	return func(*gin.Context, *guard.RequestContext) (guard.Result, error) {
		return guard.Result{Data: data}, nil
	}
}

func TestReadSetsHeaders(t *testing.T) {
	h := newHarness(t, "leads:read")
	h.router.GET("/admin/leads", h.guard.Read(guard.ReadOptions{Permissions: []string{"leads:read"}}, okHandler(gin.H{"items": []string{}})))
	h.router.GET("/admin/reports", h.guard.Read(guard.ReadOptions{Permissions: []string{"leads:read"}, CacheTTL: time.Minute}, okHandler(gin.H{})))

	rec := h.request(http.MethodGet, "/admin/leads", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))
	require.True(t, strings.HasPrefix(rec.Header().Get(guard.HeaderRequestID), "req_"))

	rec = h.request(http.MethodGet, "/admin/reports", "", false)
	require.Equal(t, "max-age=60, private", rec.Header().Get("Cache-Control"))
}

func TestReadUnauthenticatedAndSessionErrors(t *testing.T) {
	h := newHarness(t, "leads:read")
	h.router.GET("/admin/leads", h.guard.Read(guard.ReadOptions{Permissions: []string{"leads:read"}}, okHandler(nil)))

	req := httptest.NewRequest(http.MethodGet, "/admin/leads", nil)
	req.Header.Set(guard.HeaderRequestID, "req_fixed")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	payload := decodeError(t, rec)
	require.Equal(t, guard.CodeUnauthorized, payload.Code)
	require.Equal(t, "req_fixed", payload.RequestID)
	require.Equal(t, "req_fixed", rec.Header().Get(guard.HeaderRequestID))
	require.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))

	req = httptest.NewRequest(http.MethodGet, "/admin/leads", nil)
	req.Header.Set("X-Test-Email", "ops@example.com")
	req.Header.Set("X-Test-Session-Error", domain.SessionInactiveTimeout)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	payload = decodeError(t, rec)
	require.Equal(t, guard.CodeSessionInvalid, payload.Code)
	require.Equal(t, domain.SessionInactiveTimeout, payload.Details["reason"])
	require.Zero(t, h.resolver.calls)
}

func TestReadForbiddenReportsEvent(t *testing.T) {
	h := newHarness(t, "leads:read")
	h.router.GET("/admin/invoices", h.guard.Read(guard.ReadOptions{Permissions: []string{"invoices:read"}}, okHandler(nil)))

	rec := h.request(http.MethodGet, "/admin/invoices", "", false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, guard.CodeForbidden, decodeError(t, rec).Code)
	require.Len(t, h.sink.events, 1)
	require.Equal(t, domain.EventAccessDenied, h.sink.events[0].EventType)
	require.Equal(t, "u1", h.sink.events[0].UserID)
}

func TestReadResolvesEveryRequest(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.router.GET("/admin/leads", h.guard.Read(guard.ReadOptions{Permissions: []string{"leads:read"}}, okHandler(nil)))

	h.request(http.MethodGet, "/admin/leads", "", false)
	h.request(http.MethodGet, "/admin/leads", "", false)
	require.Equal(t, 2, h.resolver.calls)
}

func TestEnvironmentCheck(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	g, err := guard.New(guard.Deps{
		Resolver:    h.resolver,
		CSRF:        h.csrf,
		Environment: stubEnvironment{decision: access.Decision{Reason: access.ReasonTimeAccessDenied}},
	})
	require.NoError(t, err)
	h.router.GET("/admin/leads", g.Read(guard.ReadOptions{EnvironmentCheck: true}, okHandler(nil)))

	rec := h.request(http.MethodGet, "/admin/leads", "", false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	payload := decodeError(t, rec)
	require.Equal(t, guard.CodeAccessDenied, payload.Code)
	require.Equal(t, access.ReasonTimeAccessDenied, payload.Details["reason"])
	require.Zero(t, h.resolver.calls)
}

func TestMutationRejectsCrossOriginBeforeAuth(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.router.POST("/admin/leads", h.guard.Mutation(guard.MutationOptions{}, okHandler(gin.H{"id": "lead_1"})))

	rec := h.request(http.MethodPost, "/admin/leads", `{}`, false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, guard.CodeOriginViolation, decodeError(t, rec).Code)
	require.Zero(t, h.resolver.calls)
}

func TestMutationCSRFFailureNeverReachesResolver(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.router.POST("/admin/leads", h.guard.Mutation(guard.MutationOptions{}, okHandler(nil)))

	req := httptest.NewRequest(http.MethodPost, "/admin/leads", nil)
	req.Header.Set("X-Test-Email", "ops@example.com")
	req.Header.Set("Origin", origin)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: h.token})
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, guard.CodeCSRFViolation, decodeError(t, rec).Code)
	require.Zero(t, h.resolver.calls)
	require.Len(t, h.sink.events, 1)
	require.Equal(t, domain.EventCSRFViolation, h.sink.events[0].EventType)
}

func TestMutationSkipCSRF(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.router.POST("/webhooks/payments", h.guard.Mutation(guard.MutationOptions{SkipCSRF: true}, okHandler(gin.H{"ok": true})))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	req.Header.Set("X-Test-Email", "ops@example.com")
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMutationForbiddenNeverHitsLimiter(t *testing.T) {
	h := newHarness(t, "leads:read")
	h.router.POST("/admin/leads", h.guard.Mutation(guard.MutationOptions{
		Permissions: []string{"leads:write"},
		RateLimit:   &guard.RateLimit{Key: "leads.create", Max: 5, Window: time.Minute},
	}, okHandler(nil)))

	rec := h.request(http.MethodPost, "/admin/leads", `{}`, true)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, 1, h.resolver.calls)
	require.Zero(t, h.limiter.calls)
}

func TestMutationRateLimited(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.limiter.err = &domain.RateLimitError{Key: "leads.create:u1", RetryAfter: 42 * time.Second}
	handled := false
	h.router.POST("/admin/leads", h.guard.Mutation(guard.MutationOptions{
		RateLimit: &guard.RateLimit{Key: "leads.create", Max: 5, Window: time.Minute},
	}, func(*gin.Context, *guard.RequestContext) (guard.Result, error) {
		handled = true
		return guard.Result{}, nil
	}))

	rec := h.request(http.MethodPost, "/admin/leads", `{}`, true)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "42", rec.Header().Get("Retry-After"))
	payload := decodeError(t, rec)
	require.Equal(t, guard.CodeRateLimited, payload.Code)
	require.EqualValues(t, 42, payload.Details["retryAfter"])
	require.False(t, handled)
	require.Equal(t, domain.EventRateLimited, h.sink.events[0].EventType)
}

func TestMutationCapturesBeforeSnapshotPriorToHandler(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	invoice := map[string]any{"id": "inv_1234", "status": "draft", "amount": 100}
	h.guard.Snapshots().Register("invoice", guard.FinderFunc(func(_ context.Context, id string) (any, error) {
		require.Equal(t, "inv_1234", id)
		return map[string]any{"id": invoice["id"], "status": invoice["status"], "amount": invoice["amount"]}, nil
	}))

	h.router.PATCH("/admin/invoices/:id", h.guard.Mutation(guard.MutationOptions{
		Audit: &guard.AuditOptions{Resource: "invoice", Action: "update"},
	}, func(_ *gin.Context, rc *guard.RequestContext) (guard.Result, error) {
		require.NotNil(t, rc.Before)
		invoice["status"] = "sent"
		return guard.Result{Data: invoice}, nil
	}))

	rec := h.request(http.MethodPatch, "/admin/invoices/inv_1234", `{"status":"sent"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := h.audits.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	require.Equal(t, "inv_1234", e.ResourceID)
	require.Equal(t, "u1", e.ActorID)
	require.Equal(t, origin, e.Origin)
	require.Equal(t, rec.Header().Get(guard.HeaderRequestID), e.RequestID)
	require.Equal(t, map[string]domain.Change{"status": {Old: "draft", New: "sent"}}, e.Diff)
}

func TestMutationCreateTakesIDFromPayload(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.router.POST("/admin/leads", h.guard.Mutation(guard.MutationOptions{
		Audit: &guard.AuditOptions{Resource: "lead", Action: "create"},
	}, func(*gin.Context, *guard.RequestContext) (guard.Result, error) {
		return guard.Result{Status: http.StatusCreated, Data: gin.H{"id": "lead_42", "name": "Acme"}}, nil
	}))

	rec := h.request(http.MethodPost, "/admin/leads", `{"name":"Acme"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	e := h.audits.Entries()[0]
	require.Equal(t, "lead_42", e.ResourceID)
	require.Nil(t, e.Before)
	require.Nil(t, e.Diff)
}

func TestMutationFailClosedAuditAborts(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.audits.FailWith = errors.New("db unavailable")
	h.router.DELETE("/admin/contracts/:id", h.guard.Mutation(guard.MutationOptions{
		Audit: &guard.AuditOptions{Resource: "contract", Action: "delete", FailClosed: true},
	}, okHandler(gin.H{"deleted": true})))
	h.router.DELETE("/admin/leads/:id", h.guard.Mutation(guard.MutationOptions{
		Audit: &guard.AuditOptions{Resource: "lead", Action: "delete"},
	}, okHandler(gin.H{"deleted": true})))

	rec := h.request(http.MethodDelete, "/admin/contracts/ctr_0001", "", true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, guard.CodeAuditWriteFailed, decodeError(t, rec).Code)

	rec = h.request(http.MethodDelete, "/admin/leads/lead_0001", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMutationHandlerErrors(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.router.POST("/admin/proposals", h.guard.Mutation(guard.MutationOptions{
		Audit: &guard.AuditOptions{Resource: "proposal", Action: "create"},
	}, func(*gin.Context, *guard.RequestContext) (guard.Result, error) {
		return guard.Result{}, domain.NewHandlerError(http.StatusUnprocessableEntity, "INVALID_PROPOSAL", "title is required")
	}))
	h.router.POST("/admin/incidents", h.guard.Mutation(guard.MutationOptions{}, func(*gin.Context, *guard.RequestContext) (guard.Result, error) {
		panic("nil map write at secret location")
	}))

	rec := h.request(http.MethodPost, "/admin/proposals", `{}`, true)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decodeError(t, rec)
	require.Equal(t, "INVALID_PROPOSAL", payload.Code)
	require.Equal(t, "title is required", payload.Message)
	require.Empty(t, h.audits.Entries())

	rec = h.request(http.MethodPost, "/admin/incidents", `{}`, true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	payload = decodeError(t, rec)
	require.Equal(t, guard.CodeInternal, payload.Code)
	require.NotContains(t, payload.Message, "secret")
	require.NotEmpty(t, payload.RequestID)
}

func TestNewRequiresResolverAndCSRF(t *testing.T) {
	_, err := guard.New(guard.Deps{CSRF: csrf.New("s", false)})
	require.Error(t, err)
	_, err = guard.New(guard.Deps{Resolver: &stubResolver{}})
	require.Error(t, err)
}

func TestRequestIDRejectsMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, in := range []string{"bad id\r\nx", strings.Repeat("a", 200)} {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set(guard.HeaderRequestID, in)
		id := guard.RequestID(c)
		require.True(t, strings.HasPrefix(id, "req_"), in)
		require.Equal(t, id, guard.RequestID(c))
	}
}

func TestEnvironmentMiddlewareUsesErrorEnvelope(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	g, err := guard.New(guard.Deps{
		Resolver:    h.resolver,
		CSRF:        h.csrf,
		Environment: stubEnvironment{decision: access.Decision{Reason: access.ReasonIPNotAllowed}},
		Events:      h.sink,
	})
	require.NoError(t, err)
	h.router.Use(g.Environment())
	h.router.GET("/admin/leads", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := h.request(http.MethodGet, "/admin/leads", "", false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))
	payload := decodeError(t, rec)
	require.Equal(t, guard.CodeAccessDenied, payload.Code)
	require.Equal(t, access.ReasonIPNotAllowed, payload.Details["reason"])
	require.NotEmpty(t, payload.RequestID)
	require.Len(t, h.sink.events, 1)
	require.Equal(t, domain.EventAccessDenied, h.sink.events[0].EventType)
}

func TestEnvironmentMiddlewarePassesWithoutChecker(t *testing.T) {
	h := newHarness(t, domain.WildcardPermission)
	h.router.Use(h.guard.Environment())
	h.router.GET("/admin/leads", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := h.request(http.MethodGet, "/admin/leads", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
}
