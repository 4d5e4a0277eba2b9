package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/csrf"
	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/guard"
	"github.com/smallbiznis/admin-guard/internal/http/middleware"
	"github.com/smallbiznis/admin-guard/internal/password"
	"github.com/smallbiznis/admin-guard/internal/repository"
	"github.com/smallbiznis/admin-guard/internal/reputation"
	"github.com/smallbiznis/admin-guard/internal/session"
)

const (
	loginRateLimitKey    = "auth.login"
	loginRateLimitMax    = 10
	loginRateLimitWindow = 5 * time.Minute
	loginBackoffBase     = time.Second
)

// AuthHandler serves login, logout and CSRF token issuance.
type AuthHandler struct {
	Identities   repository.IdentityStore
	Sessions     *session.Manager
	Events       guard.EventSink
	Limiter      guard.RateLimiter
	CSRF         *csrf.Protector
	CookieName   string
	CookieSecure bool
	// HashParams are the argon2id parameters stored hashes are upgraded to
	// on a successful login. Zero uses password.DefaultParams.
	HashParams password.Params
	Logger     *zap.Logger
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	Session   domain.Session `json:"session"`
	CSRFToken string         `json:"csrfToken"`
}

// Login verifies credentials, opens a session and sets the session cookie.
// Every attempt is reported as a LOGIN_ATTEMPT event.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		guard.WriteError(c, h.Logger, domain.NewHandlerError(http.StatusBadRequest, "", "email and password are required"))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	ctx := c.Request.Context()

	if h.Limiter != nil {
		if err := h.Limiter.Enforce(ctx, loginRateLimitKey, c.ClientIP(), loginRateLimitMax, loginRateLimitWindow); err != nil {
			guard.WriteError(c, h.Logger, err)
			return
		}
	}

	ident, err := h.Identities.GetIdentityByEmail(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		guard.WriteError(c, h.Logger, err)
		return
	}
	if err != nil || ident.User.PasswordHash == "" {
		password.VerifyDummy(req.Password)
		h.loginFailed(c, h.loginAttempt(c, email, "", domain.StatusFailure, "unknown_user"))
		return
	}

	ok, err := password.Verify(req.Password, ident.User.PasswordHash)
	if err != nil || !ok {
		h.loginFailed(c, h.loginAttempt(c, email, ident.User.ID, domain.StatusFailure, "bad_password"))
		return
	}
	h.upgradeHash(c, ident.User.ID, req.Password, ident.User.PasswordHash)

	device := session.ExtractDeviceInfo(c.Request)
	device.IP = c.ClientIP()
	sess, err := h.Sessions.Create(ctx, ident.User.ID, device)
	if err != nil {
		guard.WriteError(c, h.Logger, err)
		return
	}
	h.loginAttempt(c, email, ident.User.ID, domain.StatusSuccess, "")

	csrfToken, err := h.CSRF.Issue(c)
	if err != nil {
		guard.WriteError(c, h.Logger, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.CookieName, sess.Token, int(h.Sessions.Config().AbsoluteTTL.Seconds()), "/", "", h.CookieSecure, true)
	c.Header(guard.HeaderCacheControl, "no-store")
	c.JSON(http.StatusOK, loginResponse{Token: sess.Token, Session: sess, CSRFToken: csrfToken})
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.SessionToken(c)
	id, _ := guard.IdentityFrom(c)
	if token == "" {
		guard.WriteError(c, h.Logger, domain.ErrUnauthorized)
		return
	}
	if err := h.Sessions.Revoke(c.Request.Context(), token, domain.RevokeReasonLogout); err != nil {
		guard.WriteError(c, h.Logger, err)
		return
	}
	if h.Events != nil {
		h.Events.LogEvent(c.Request.Context(), reputation.Event{
			EventType: domain.EventLogout,
			Severity:  domain.SeverityLow,
			Status:    domain.StatusSuccess,
			IP:        c.ClientIP(),
			UserID:    id.UserID,
			Email:     id.Email,
			UserAgent: c.Request.UserAgent(),
			Metadata:  map[string]any{"sessionId": id.SessionID},
		})
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.CookieName, "", -1, "/", "", h.CookieSecure, true)
	c.Status(http.StatusNoContent)
}

// CSRFToken issues a fresh double-submit token.
func (h *AuthHandler) CSRFToken(c *gin.Context) {
	token, err := h.CSRF.Issue(c)
	if err != nil {
		guard.WriteError(c, h.Logger, err)
		return
	}
	c.Header(guard.HeaderCacheControl, "no-store")
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// loginFailed writes the invalid credentials error with a Retry-After hint
// that doubles with every failure recorded for the client IP.
func (h *AuthHandler) loginFailed(c *gin.Context, out reputation.Outcome) {
	if out.Reputation != nil {
		wait := reputation.ExponentialBackoff(out.Reputation.FailedAttempts, loginBackoffBase)
		if secs := int(math.Ceil(wait.Seconds())); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	guard.WriteError(c, h.Logger, domain.ErrInvalidCredentials)
}

func (h *AuthHandler) upgradeHash(c *gin.Context, userID, plain, hash string) {
	params := h.HashParams
	if params == (password.Params{}) {
		params = password.DefaultParams
	}
	if !password.NeedsRehash(hash, params) {
		return
	}
	upgraded, err := password.HashWithParams(plain, params)
	if err == nil {
		err = h.Identities.UpdatePasswordHash(c.Request.Context(), userID, upgraded)
	}
	if err != nil {
		h.logger().Warn("password rehash failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *AuthHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.L()
	}
	return h.Logger
}

func (h *AuthHandler) loginAttempt(c *gin.Context, email, userID string, status domain.EventStatus, reason string) reputation.Outcome {
	if h.Events == nil {
		return reputation.Outcome{}
	}
	sev := domain.SeverityLow
	meta := map[string]any{}
	if status == domain.StatusFailure {
		sev = domain.SeverityMedium
		meta["reason"] = reason
	}
	return h.Events.LogEvent(c.Request.Context(), reputation.Event{
		EventType: domain.EventLoginAttempt,
		Severity:  sev,
		Status:    status,
		IP:        c.ClientIP(),
		UserID:    userID,
		Email:     email,
		UserAgent: c.Request.UserAgent(),
		Metadata:  meta,
	})
}
