package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ReadsYAMLAndAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9001
database:
  user: calcstore
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "calcstore", cfg.Database.User)
	// Unset fields get defaults.
	assert.Equal(t, DefaultDBHost, cfg.Database.Host)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := writeTempConfig(t, `
server:
  mode: production
database:
  user: calcstore
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "validation failed")
}

func TestLoadFromEnv_UsesEnvironmentOverrides(t *testing.T) {
	t.Setenv("CALCSTORE_DATABASE_USER", "envuser")
	t.Setenv("CALCSTORE_SERVER_PORT", "7070")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "envuser", cfg.Database.User)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() { MustLoad("/nonexistent/config.yaml") })
}
