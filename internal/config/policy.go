package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/smallbiznis/admin-guard/internal/access"
)

// PolicyEnv holds the raw ADMIN_* environment inputs.
type PolicyEnv struct {
	IPAllowlistEnabled bool
	AllowedIPs         []string
	AllowedCIDRs       []string
	GeoEnabled         bool
	AllowedCountries   []string
	BlockedCountries   []string
	TimeEnabled        bool
	BusinessStart      string
	BusinessEnd        string
	Timezone           string
	BusinessDays       []string
	MaintenanceWindows string
}

func loadPolicyEnv() PolicyEnv {
	return PolicyEnv{
		IPAllowlistEnabled: getBool("ADMIN_IP_ALLOWLIST_ENABLED", false),
		AllowedIPs:         getList("ADMIN_ALLOWED_IPS", nil),
		AllowedCIDRs:       getList("ADMIN_ALLOWED_CIDRS", nil),
		GeoEnabled:         getBool("ADMIN_GEO_RESTRICTIONS_ENABLED", false),
		AllowedCountries:   getList("ADMIN_ALLOWED_COUNTRIES", nil),
		BlockedCountries:   getList("ADMIN_BLOCKED_COUNTRIES", nil),
		TimeEnabled:        getBool("ADMIN_TIME_BASED_ACCESS_ENABLED", false),
		BusinessStart:      getEnv("ADMIN_BUSINESS_HOURS_START", "09:00"),
		BusinessEnd:        getEnv("ADMIN_BUSINESS_HOURS_END", "17:00"),
		Timezone:           getEnv("ADMIN_TIMEZONE", "UTC"),
		BusinessDays:       getList("ADMIN_BUSINESS_DAYS", []string{"1", "2", "3", "4", "5"}),
		MaintenanceWindows: strings.TrimSpace(os.Getenv("ADMIN_MAINTENANCE_WINDOWS")),
	}
}

// Policy builds the environmental access policy from the env inputs.
func (e PolicyEnv) Policy() (access.Policy, error) {
	days, err := parseDays(e.BusinessDays)
	if err != nil {
		return access.Policy{}, err
	}
	p := access.Policy{
		IPAllowlist: access.IPAllowlist{
			Enabled:      e.IPAllowlistEnabled,
			AllowedIPs:   e.AllowedIPs,
			AllowedCIDRs: e.AllowedCIDRs,
		},
		Geo: access.GeoRestrictions{
			Enabled:          e.GeoEnabled,
			AllowedCountries: e.AllowedCountries,
			BlockedCountries: e.BlockedCountries,
		},
		Time: access.TimeAccess{
			Enabled: e.TimeEnabled,
			BusinessHours: access.Window{
				Start:    e.BusinessStart,
				End:      e.BusinessEnd,
				Timezone: e.Timezone,
				Days:     days,
			},
		},
	}
	if e.MaintenanceWindows != "" {
		if err := json.Unmarshal([]byte(e.MaintenanceWindows), &p.Time.MaintenanceWindows); err != nil {
			return access.Policy{}, fmt.Errorf("parse ADMIN_MAINTENANCE_WINDOWS: %w", err)
		}
	}
	return p, nil
}

// LoadPolicyFile reads a YAML policy document.
func LoadPolicyFile(path string) (access.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return access.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	p := access.DefaultPolicy()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return access.Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	return p, nil
}

// ValidatePolicy rejects windows and ranges the checker could not evaluate.
func ValidatePolicy(p access.Policy) error {
	for _, cidr := range p.IPAllowlist.AllowedCIDRs {
		if _, _, err := access.CIDRRange(cidr); err != nil {
			return fmt.Errorf("allowed cidr %q: %w", cidr, err)
		}
	}
	if err := validateWindow(p.Time.BusinessHours); err != nil {
		return fmt.Errorf("business hours: %w", err)
	}
	for i, w := range p.Time.MaintenanceWindows {
		if err := validateWindow(w); err != nil {
			return fmt.Errorf("maintenance window %d: %w", i, err)
		}
	}
	return nil
}

// AccessPolicy resolves the effective policy. Invalid input yields the
// all-disabled default and is logged.
func (c Config) AccessPolicy(logger *zap.Logger) access.Policy {
	var (
		p   access.Policy
		err error
	)
	if c.PolicyFile != "" {
		p, err = LoadPolicyFile(c.PolicyFile)
	} else {
		p, err = c.PolicyEnv.Policy()
	}
	if err == nil {
		err = ValidatePolicy(p)
	}
	if err != nil {
		logger.Error("invalid admin security policy, using defaults", zap.Error(err))
		return access.DefaultPolicy()
	}
	return p
}

func validateWindow(w access.Window) error {
	if w.Start == "" && w.End == "" {
		return nil
	}
	if _, err := access.ParseClock(w.Start); err != nil {
		return err
	}
	if _, err := access.ParseClock(w.End); err != nil {
		return err
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", w.Timezone, err)
		}
	}
	for _, d := range w.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("day %d out of range", d)
		}
	}
	return nil
}

func parseDays(values []string) ([]int, error) {
	days := make([]int, 0, len(values))
	for _, v := range values {
		d, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("parse ADMIN_BUSINESS_DAYS: %w", err)
		}
		days = append(days, d)
	}
	return days, nil
}
