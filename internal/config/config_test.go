package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
host: "127.0.0.1"
port: 9000
admin-key: "secret"
proxy-url: "socks5://127.0.0.1:1080"
db-path: "test.db"
event-redact-sensitive: true
api-keys:
  - "k1"
  - "k2"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "secret", cfg.AdminKey)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.ProxyURL)
	assert.Equal(t, "test.db", cfg.DBPath)
	assert.True(t, cfg.RedactSensitive)
	assert.Equal(t, []string{"k1", "k2"}, cfg.APIKeys)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8317, cfg.Port)
	assert.Equal(t, "gproxy.db", cfg.DBPath)
	assert.Equal(t, "logs", cfg.LogDir)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GPROXY_PORT", "9100")
	t.Setenv("GPROXY_ADMIN_KEY", "from-env")
	cfg, err := LoadConfig(writeConfig(t, "port: 8000\nadmin-key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-env", cfg.AdminKey)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
