// Package csrf implements signed double-submit CSRF tokens.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

const (
	CookieName = "csrf-token"
	HeaderName = "X-CSRF-Token"
	TokenTTL   = 24 * time.Hour

	nonceBytes = 32
)

// Protector mints and verifies tokens bound to a server secret.
type Protector struct {
	secret []byte
	secure bool
}

// New constructs a Protector. secure marks the cookie Secure.
func New(secret string, secure bool) *Protector {
	return &Protector{secret: []byte(secret), secure: secure}
}

// Mint returns a fresh "nonce.signature" token.
func (p *Protector) Mint() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)
	return nonce + "." + p.sign(nonce), nil
}

// Valid reports whether token carries a correct signature.
func (p *Protector) Valid(token string) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(p.sign(nonce)))
}

// Verify checks the double-submit pair on state-changing methods.
func (p *Protector) Verify(r *http.Request) error {
	if !StateChanging(r.Method) {
		return nil
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return fmt.Errorf("%w: missing cookie", domain.ErrCSRFViolation)
	}
	header := r.Header.Get(HeaderName)
	if header == "" {
		return fmt.Errorf("%w: missing header", domain.ErrCSRFViolation)
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return fmt.Errorf("%w: token mismatch", domain.ErrCSRFViolation)
	}
	if !p.Valid(header) {
		return fmt.Errorf("%w: bad signature", domain.ErrCSRFViolation)
	}
	return nil
}

// Issue mints a token and sets it as the CSRF cookie.
func (p *Protector) Issue(c *gin.Context) (string, error) {
	token, err := p.Mint()
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, token, int(TokenTTL.Seconds()), "/", "", p.secure, true)
	return token, nil
}

// StateChanging reports whether method requires CSRF verification.
func StateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (p *Protector) sign(nonce string) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
