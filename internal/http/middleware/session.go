package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/guard"
	"github.com/smallbiznis/admin-guard/internal/repository"
	"github.com/smallbiznis/admin-guard/internal/session"
)

const (
	authScheme      = "Session"
	sessionTokenKey = "session_token"
)

// Sessions authenticates requests from the session cookie or an
// "Authorization: Session <token>" header. It never rejects on its own; the
// guard turns a missing or invalid identity into 401.
type Sessions struct {
	Manager    *session.Manager
	Identities repository.IdentityStore
	CookieName string
	Logger     *zap.Logger
}

// Handler returns the gin middleware.
func (s *Sessions) Handler() gin.HandlerFunc {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		token := s.token(c)
		if token == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		res, err := s.Manager.Validate(ctx, token)
		if err != nil {
			guard.SetIdentity(c, guard.Identity{Err: err})
			c.Next()
			return
		}
		if !res.Valid {
			guard.SetIdentity(c, guard.Identity{SessionError: res.Error})
			c.Next()
			return
		}

		if err := s.Manager.Touch(ctx, token); err != nil {
			logger.Warn("touch session", zap.String("session_id", res.Session.ID), zap.Error(err))
		}

		user, err := s.Identities.GetUserByID(ctx, res.Session.UserID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			guard.SetIdentity(c, guard.Identity{UserID: res.Session.UserID, SessionID: res.Session.ID})
		case err != nil:
			guard.SetIdentity(c, guard.Identity{Err: err})
		default:
			guard.SetIdentity(c, guard.Identity{
				Email:     user.Email,
				UserID:    user.ID,
				SessionID: res.Session.ID,
			})
		}
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

// SessionToken returns the validated token of the current request.
func SessionToken(c *gin.Context) string {
	return c.GetString(sessionTokenKey)
}

func (s *Sessions) token(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, authScheme) {
			return strings.TrimSpace(value)
		}
	}
	if s.CookieName == "" {
		return ""
	}
	if cookie, err := c.Cookie(s.CookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}
