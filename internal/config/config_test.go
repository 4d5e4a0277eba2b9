package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/admin-guard/internal/access"
)

func TestLoadMemoryDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_ENV", "development")
	t.Setenv("CSRF_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	require.Equal(t, "admin-guard", cfg.ServiceName)
	require.Equal(t, 3, cfg.SessionMaxConcurrent)
	require.Equal(t, "admin_session", cfg.SessionCookieName)
	require.NotEmpty(t, cfg.CSRFSecret)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRequiresCSRFSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_ENV", "production")
	t.Setenv("CSRF_SECRET", "")
	_, err := Load()
	require.ErrorContains(t, err, "CSRF_SECRET")
}

func TestPolicyFromEnv(t *testing.T) {
	env := PolicyEnv{
		IPAllowlistEnabled: true,
		AllowedCIDRs:       []string{"10.0.0.0/8"},
		TimeEnabled:        true,
		BusinessStart:      "08:00",
		BusinessEnd:        "18:00",
		Timezone:           "Europe/Berlin",
		BusinessDays:       []string{"1", "2"},
		MaintenanceWindows: `[{"startTime":"02:00","endTime":"03:00","timezone":"UTC","days":[0]}]`,
	}
	p, err := env.Policy()
	require.NoError(t, err)
	require.True(t, p.IPAllowlist.Enabled)
	require.Equal(t, []int{1, 2}, p.Time.BusinessHours.Days)
	require.Len(t, p.Time.MaintenanceWindows, 1)
	require.Equal(t, "02:00", p.Time.MaintenanceWindows[0].Start)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
ipAllowlist:
  enabled: true
  allowedIPs: ["203.0.113.7"]
geographicRestrictions:
  enabled: true
  blockedCountries: ["KP"]
timeBasedAccess:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"203.0.113.7"}, p.IPAllowlist.AllowedIPs)
	require.Equal(t, []string{"KP"}, p.Geo.BlockedCountries)
	require.Equal(t, "09:00", p.Time.BusinessHours.Start)
}

func TestAccessPolicyFallsBackOnInvalidInput(t *testing.T) {
	cfg := Config{PolicyEnv: PolicyEnv{
		IPAllowlistEnabled: true,
		AllowedCIDRs:       []string{"10.0.0.0/99"},
		BusinessStart:      "09:00",
		BusinessEnd:        "17:00",
	}}
	require.Equal(t, access.DefaultPolicy(), cfg.AccessPolicy(zap.NewNop()))

	cfg.PolicyEnv = PolicyEnv{BusinessStart: "25:00", BusinessEnd: "17:00"}
	require.Equal(t, access.DefaultPolicy(), cfg.AccessPolicy(zap.NewNop()))

	cfg.PolicyEnv = PolicyEnv{MaintenanceWindows: "{not json"}
	require.Equal(t, access.DefaultPolicy(), cfg.AccessPolicy(zap.NewNop()))
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_ENV", "development")

	t.Setenv("TRUSTED_PROXIES", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/33")
	_, err = Load()
	require.ErrorContains(t, err, "TRUSTED_PROXIES")
}
