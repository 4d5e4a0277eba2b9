package guard

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// OriginChecker enforces same-origin state-changing requests.
type OriginChecker struct {
	expected string
}

// NewOriginChecker builds a checker for the configured public origin. An
// empty origin derives the expectation from each request's host.
func NewOriginChecker(publicOrigin string) *OriginChecker {
	return &OriginChecker{expected: normalizeOrigin(publicOrigin)}
}

// Expected returns the origin r must come from.
func (o *OriginChecker) Expected(r *http.Request) string {
	if o != nil && o.expected != "" {
		return o.expected
	}
	proto := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0])
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	return normalizeOrigin(proto + "://" + r.Host)
}

// Check accepts a matching Origin header, or failing that a Referer under
// the expected origin. Requests carrying neither are rejected.
func (o *OriginChecker) Check(r *http.Request) error {
	expected := o.Expected(r)
	if origin := r.Header.Get("Origin"); origin != "" {
		if normalizeOrigin(origin) == expected {
			return nil
		}
		return fmt.Errorf("%w: origin %q", domain.ErrOriginViolation, origin)
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		ref := strings.ToLower(referer)
		if normalizeOrigin(ref) == expected || strings.HasPrefix(ref, expected+"/") {
			return nil
		}
		return fmt.Errorf("%w: referer %q", domain.ErrOriginViolation, referer)
	}
	return fmt.Errorf("%w: no origin or referer", domain.ErrOriginViolation)
}

func normalizeOrigin(v string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(v)), "/")
}
