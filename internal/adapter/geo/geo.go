// Package geo resolves the client country from a header set by a trusted
// edge proxy. The header is only honored when the direct peer is one of the
// configured trusted proxies.
package geo

import (
	"context"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/admin-guard/internal/access"
)

type countryKey struct{}

var _ access.CountryLookup = HeaderLookup{}

// Unknown codes some edges emit when they cannot place an address.
var unknownCodes = map[string]struct{}{"XX": {}, "T1": {}}

// WithCountry stores an ISO country code on ctx.
func WithCountry(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, countryKey{}, code)
}

// CountryFrom returns the code stored by WithCountry.
func CountryFrom(ctx context.Context) string {
	code, _ := ctx.Value(countryKey{}).(string)
	return code
}

// Middleware copies the edge country header onto the request context when
// the request arrived from one of trustedProxies (IPs or CIDRs). With no
// trusted proxies the header is ignored and country checks see "unknown".
func Middleware(header string, trustedProxies []string) gin.HandlerFunc {
	proxies := parseProxies(trustedProxies)
	return func(c *gin.Context) {
		if header == "" || !trusted(proxies, c.RemoteIP()) {
			c.Next()
			return
		}
		code := strings.ToUpper(strings.TrimSpace(c.GetHeader(header)))
		if _, unknown := unknownCodes[code]; code != "" && !unknown {
			c.Request = c.Request.WithContext(WithCountry(c.Request.Context(), code))
		}
		c.Next()
	}
}

// parseProxies skips malformed entries; config.Load rejects them earlier.
func parseProxies(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
		}
	}
	return out
}

func trusted(proxies []netip.Prefix, remote string) bool {
	if len(proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(remote)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// HeaderLookup answers country lookups from the request context. The ip
// argument is ignored since the edge already resolved it.
type HeaderLookup struct{}

// Country returns the code placed by Middleware, or "" when unknown.
func (HeaderLookup) Country(ctx context.Context, _ string) (string, error) {
	return CountryFrom(ctx), nil
}
