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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, uint64(100000000), cfg.Ledger.GasBudget)
	assert.Equal(t, 1000.0, cfg.Relay.MintMaxAmount)
	assert.Equal(t, time.Hour, cfg.Relay.MintCooldown)
	assert.Equal(t, 50, cfg.Events.PageLimit)
	assert.Equal(t, "@every 15m", cfg.Yield.SweepSchedule)
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PACKAGE_ID=0xpkg\nMINT_COOLDOWN=90s\nCORS_ORIGINS=https://a.example, https://b.example\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PACKAGE_ID")
		os.Unsetenv("MINT_COOLDOWN")
		os.Unsetenv("CORS_ORIGINS")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "0xpkg", cfg.Ledger.PackageID)
	assert.Equal(t, 90*time.Second, cfg.Relay.MintCooldown)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.Origins())
}

func TestValidateServe(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	err = cfg.ValidateServe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPONSOR_PRIVATE_KEY")
	assert.Contains(t, err.Error(), "PACKAGE_ID")

	cfg.Ledger.SponsorKey = "00"
	cfg.Ledger.PackageID = "0xpkg"
	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.ValidateServe())

	cfg.Events.PageLimit = 100
	assert.Error(t, cfg.ValidateServe())
}
