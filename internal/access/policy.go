// Package access implements the environmental access policy for the admin
// surface: IP allow-lists, geographic restrictions and time windows.
package access

// Denial reasons.
const (
	ReasonIPNotAllowed      = "IP_NOT_ALLOWED"
	ReasonCountryNotAllowed = "COUNTRY_NOT_ALLOWED"
	ReasonTimeAccessDenied  = "TIME_ACCESS_DENIED"
)

// Policy groups the three independently toggleable checks.
type Policy struct {
	IPAllowlist IPAllowlist     `yaml:"ipAllowlist" json:"ipAllowlist"`
	Geo         GeoRestrictions `yaml:"geographicRestrictions" json:"geographicRestrictions"`
	Time        TimeAccess      `yaml:"timeBasedAccess" json:"timeBasedAccess"`
}

// IPAllowlist admits exact addresses and CIDR ranges.
type IPAllowlist struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	AllowedIPs   []string `yaml:"allowedIPs" json:"allowedIPs"`
	AllowedCIDRs []string `yaml:"allowedCIDRs" json:"allowedCIDRs"`
}

// GeoRestrictions filters by ISO country code. A non-empty allowed list
// takes precedence over the blocked list.
type GeoRestrictions struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	AllowedCountries []string `yaml:"allowedCountries" json:"allowedCountries"`
	BlockedCountries []string `yaml:"blockedCountries" json:"blockedCountries"`
}

// TimeAccess restricts access to business hours outside maintenance windows.
type TimeAccess struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	BusinessHours      Window   `yaml:"businessHours" json:"businessHours"`
	MaintenanceWindows []Window `yaml:"maintenanceWindows" json:"maintenanceWindows"`
}

// Window is a weekly recurring range in a named timezone. Days use 0 for
// Sunday. Start after End wraps past midnight; End is inclusive.
type Window struct {
	Start    string `yaml:"startTime" json:"startTime"`
	End      string `yaml:"endTime" json:"endTime"`
	Timezone string `yaml:"timezone" json:"timezone"`
	Days     []int  `yaml:"days" json:"days"`
}

// DefaultPolicy has every check disabled and standard business hours.
func DefaultPolicy() Policy {
	return Policy{
		Time: TimeAccess{
			BusinessHours: Window{Start: "09:00", End: "17:00", Timezone: "UTC", Days: []int{1, 2, 3, 4, 5}},
		},
	}
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
