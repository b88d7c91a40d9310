package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POLICY_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, OverpaymentFlag, cfg.Policy.Overpayment)
	assert.True(t, cfg.Policy.EnforcePeriodOrder)
	assert.Equal(t, uint(5432), cfg.Database.Port)
	assert.NotEmpty(t, cfg.RBAC.Rules)
}

func TestLoadPolicyFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy:
  overpayment: reject
  enforcePeriodOrder: false
  maxTxRetries: 5
  lockTimeout: 2s
audit:
  queueSize: 16
rbac:
  superRoles: [owner]
  rules:
    - entity: change_order
      level: final
      roles: [cfo]
`), 0o600))
	t.Setenv("POLICY_FILE", path)
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("ENFORCE_PERIOD_ORDER", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, OverpaymentReject, cfg.Policy.Overpayment)
	assert.True(t, cfg.Policy.EnforcePeriodOrder, "env overrides the file")
	assert.Equal(t, 5, cfg.Policy.MaxTxRetries)
	assert.Equal(t, 2*time.Second, cfg.Policy.LockTimeout)
	assert.Equal(t, 16, cfg.Audit.QueueSize)
	assert.Equal(t, []string{"owner"}, cfg.RBAC.SuperRoles)
	require.Len(t, cfg.RBAC.Rules, 1)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, uint(6543), cfg.Database.Port)
}

func TestLoadRejectsUnknownOverpaymentPolicy(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POLICY_FILE", "")
	t.Setenv("OVERPAYMENT_POLICY", "ignore")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadCORSOrigins(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POLICY_FILE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
