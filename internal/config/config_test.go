package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "login_app_id: com.eden.login\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "com.eden.login", cfg.LoginAppID)
	assert.Equal(t, "./apps", cfg.AppsDir)
	assert.Equal(t, "127.0.0.1:9090", cfg.DebugListen)
	assert.Equal(t, TilingMode("grid"), cfg.Tiling.Mode)
	assert.Equal(t, 8.0, cfg.Tiling.Gap)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
apps_dir: /var/lib/eden/apps
tiling:
  mode: horizontal
  gap: 4
  padding: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/eden/apps", cfg.AppsDir)
	assert.Equal(t, TilingMode("horizontal"), cfg.Tiling.Mode)
	assert.Equal(t, 4.0, cfg.Tiling.Gap)
	assert.Equal(t, 2.0, cfg.Tiling.Padding)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewWatcherFiresInitialCallback(t *testing.T) {
	path := writeConfig(t, "login_app_id: com.eden.login\n")

	var seen Config
	calls := 0
	w, err := NewWatcher(path, func(c Config) {
		seen = c
		calls++
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "com.eden.login", seen.LoginAppID)
	assert.Equal(t, seen, w.Current())
}
