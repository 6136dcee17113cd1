package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "console", cfg.Telemetry.Sink)
	assert.True(t, cfg.Deprecation.Enabled)
	assert.True(t, cfg.Catalog.BlockBreaking)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	content := `
server:
  port: 9000
catalog:
  file: /etc/moniker/catalog.yaml
cache:
  backend: memory
  default_ttl: 30s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("MONIKER_PORT", "9443")
	t.Setenv("MONIKER_SUBMIT_TOKEN", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	// Env wins over file.
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.SubmitToken)
	assert.Equal(t, "/etc/moniker/catalog.yaml", cfg.Catalog.File)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	content := "server:\n  port: 99999\ncatalog:\n  file: catalog.yaml\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRedisRequiresAddr(t *testing.T) {
	content := "catalog:\n  file: catalog.yaml\ncache:\n  backend: redis\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
