package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
is_debug: true
time_zone: "Europe/Riga"
listen:
  bind_ip: "0.0.0.0"
  port: "9999"
  path_base: "/ocpp"
rfid:
  allowlist: "tags.cdv"
location: "/var/lib/evcsms"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	conf, err := ReadConfig(path)
	require.NoError(t, err)
	assert.True(t, conf.IsDebug)
	assert.Equal(t, "Europe/Riga", conf.TimeZone)
	assert.Equal(t, "9999", conf.Listen.Port)
	assert.Equal(t, "/ocpp", conf.Listen.PathBase)
	assert.Equal(t, "tags.cdv", conf.Rfid.Allowlist)
	assert.Equal(t, "/var/lib/evcsms", conf.Location)
}

func TestReadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))

	conf, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "UTC", conf.TimeZone)
	assert.Equal(t, "9000", conf.Listen.Port)
	assert.Equal(t, "/ws", conf.Listen.PathBase)
	assert.Equal(t, "rfids.cdv", conf.Rfid.Allowlist)
	assert.False(t, conf.Mongo.Enabled)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
