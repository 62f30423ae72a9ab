package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"REDIS_URL", "API_PORT", "API_HOST", "BASE_DOMAIN", "STARTUP_TIMEOUT",
		"ENABLE_AUTH", "API_TOKEN", "FRONTEND_PORT", "DEV_MODE", "TZ",
		"SELFSTART_CONFIG_FILE", "SELFSTART_ENV_FILE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, 3000, cfg.FrontendPort)
	assert.Equal(t, 120*time.Second, cfg.StartupTimeout)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("ENABLE_AUTH", "true")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("STARTUP_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.True(t, cfg.EnableAuth)
	assert.Equal(t, 45*time.Second, cfg.StartupTimeout)
}

func TestLoad_EnableAuthWithoutTokenFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENABLE_AUTH", "true")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_JSONOverlayAppliesOnTopOfEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.json")
	require.NoError(t, os.WriteFile(overlay, []byte(`{"api_port": 7000, "base_domain": "example.test"}`), 0644))
	t.Setenv("SELFSTART_CONFIG_FILE", overlay)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.APIPort)
	assert.Equal(t, "example.test", cfg.BaseDomain)
}

func TestFindEnvFile_PrefersExplicitOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(path, []byte("API_PORT=1234\n"), 0644))
	t.Setenv("SELFSTART_ENV_FILE", path)

	got, ok := findEnvFile()
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	origDebounce := debounceWrite
	debounceWrite = 0
	t.Cleanup(func() { debounceWrite = origDebounce })

	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.json")
	require.NoError(t, os.WriteFile(overlay, []byte(`{"base_domain": "first.test"}`), 0644))
	t.Setenv("SELFSTART_CONFIG_FILE", overlay)

	w, err := NewWatcher(zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "first.test", w.Current().BaseDomain)

	require.NoError(t, os.WriteFile(overlay, []byte(`{"base_domain": "second.test"}`), 0644))
	w.reload()
	assert.Equal(t, "second.test", w.Current().BaseDomain)
}
