package access

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CountryLookup resolves an address to an ISO country code. An empty code
// means unknown.
type CountryLookup interface {
	Country(ctx context.Context, ip string) (string, error)
}

// Checker evaluates a Policy. It holds no mutable state.
type Checker struct {
	policy  Policy
	lookup  CountryLookup
	logger  *zap.Logger
	now     func() time.Time
	allowed map[string]struct{}
}

// NewChecker constructs a Checker. lookup may be nil.
func NewChecker(policy Policy, lookup CountryLookup, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(policy.IPAllowlist.AllowedIPs))
	for _, ip := range policy.IPAllowlist.AllowedIPs {
		allowed[strings.TrimSpace(ip)] = struct{}{}
	}
	for _, cidr := range policy.IPAllowlist.AllowedCIDRs {
		if _, _, err := CIDRRange(cidr); err != nil {
			logger.Warn("ignoring malformed allow-list entry", zap.String("cidr", cidr), zap.Error(err))
		}
	}
	return &Checker{policy: policy, lookup: lookup, logger: logger, now: time.Now, allowed: allowed}
}

// WithClock overrides the clock used by time checks.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

// Policy returns the evaluated policy.
func (c *Checker) Policy() Policy { return c.policy }

// Check runs IP allow-list, geography and time checks in that order.
func (c *Checker) Check(ctx context.Context, ip string) Decision {
	if !c.IPAllowed(ip) {
		c.logger.Warn("admin access denied", zap.String("ip", ip), zap.String("reason", ReasonIPNotAllowed))
		return Decision{Reason: ReasonIPNotAllowed}
	}
	if !c.CountryAllowed(ctx, ip) {
		c.logger.Warn("admin access denied", zap.String("ip", ip), zap.String("reason", ReasonCountryNotAllowed))
		return Decision{Reason: ReasonCountryNotAllowed}
	}
	if !c.TimeAllowed() {
		c.logger.Warn("admin access denied", zap.String("ip", ip), zap.String("reason", ReasonTimeAccessDenied))
		return Decision{Reason: ReasonTimeAccessDenied}
	}
	return Decision{Allowed: true}
}

// IPAllowed reports whether ip passes the allow-list.
func (c *Checker) IPAllowed(ip string) bool {
	if !c.policy.IPAllowlist.Enabled {
		return true
	}
	if _, ok := c.allowed[ip]; ok {
		return true
	}
	for _, cidr := range c.policy.IPAllowlist.AllowedCIDRs {
		if IsIPInCIDR(ip, cidr) {
			return true
		}
	}
	return false
}

// CountryAllowed reports whether ip passes geographic restrictions.
// Unresolvable addresses are allowed.
func (c *Checker) CountryAllowed(ctx context.Context, ip string) bool {
	geo := c.policy.Geo
	if !geo.Enabled || c.lookup == nil {
		return true
	}
	country, err := c.lookup.Country(ctx, ip)
	if err != nil {
		c.logger.Warn("country lookup failed", zap.String("ip", ip), zap.Error(err))
		return true
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return true
	}
	if len(geo.AllowedCountries) > 0 {
		return containsFold(geo.AllowedCountries, country)
	}
	return !containsFold(geo.BlockedCountries, country)
}

// TimeAllowed reports whether now is outside every maintenance window and
// within business hours.
func (c *Checker) TimeAllowed() bool {
	t := c.policy.Time
	if !t.Enabled {
		return true
	}
	now := c.now()
	for _, w := range t.MaintenanceWindows {
		inside, err := w.Contains(now)
		if err != nil {
			c.logger.Error("maintenance window check failed", zap.Error(err))
			continue
		}
		if inside {
			return false
		}
	}
	inside, err := t.BusinessHours.Contains(now)
	if err != nil {
		c.logger.Error("business hours check failed", zap.Error(err))
		return true
	}
	return inside
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
