package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsUnderFileValues(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  name: urn:imei:123456789012345
servers:
  - short_server_id: 101
    uri: coap://example.org:5683
    lifetime_s: 86400
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "urn:imei:123456789012345", cfg.Endpoint.Name)
	require.Equal(t, "/var/lib/lwm2mcarrier", cfg.DataDir)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 1024, cfg.Transport.MTU)
	require.Equal(t, 5, cfg.Bootstrap.HoldOffS)
	require.Len(t, cfg.Servers, 1)
	require.Equal(t, uint16(101), cfg.Servers[0].ShortServerID)
}

func TestLoadFileValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  name: urn:imei:123456789012345
data_dir: /tmp/custom
transport:
  mtu: 512
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom", cfg.DataDir)
	require.Equal(t, 512, cfg.Transport.MTU)
}

func TestLoadRequiresEndpointName(t *testing.T) {
	path := writeConfig(t, `data_dir: /tmp/x`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
}
