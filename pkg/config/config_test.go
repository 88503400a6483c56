package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
servers:
  - name: rust-eu-1
    host: 203.0.113.10
    port: 28016
    password: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/warden", cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Monitor.LockTTL)
	assert.Equal(t, 50.0, cfg.Defaults.Radius)
	assert.Equal(t, 86400, cfg.Defaults.ExpireSeconds)
	assert.False(t, cfg.Monitor.Standby)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "rust-eu-1", cfg.Servers[0].Name)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
data_dir: /tmp/warden
monitor:
  poll_interval: 10s
  lock_ttl: 45s
  standby: true
zone_defaults:
  radius: 75
  delay_minutes: 10
placement:
  min_team_size: 2
  max_team_size: 6
  ban_list: [Griefer]
servers:
  - name: rust-eu-1
    host: 203.0.113.10
    port: 28016
    password: secret
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/warden", cfg.DataDir)
	assert.Equal(t, 10*time.Second, cfg.Monitor.PollInterval)
	assert.True(t, cfg.Monitor.Standby)
	assert.Equal(t, 75.0, cfg.Defaults.Radius)
	assert.Equal(t, 10, cfg.Defaults.DelayMinutes)
	assert.Equal(t, []string{"Griefer"}, cfg.Placement.BanList)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no servers", `data_dir: /tmp`},
		{"missing name", "servers:\n  - host: h\n    port: 28016\n    password: p"},
		{"missing host", "servers:\n  - name: s1\n    port: 28016\n    password: p"},
		{"missing password", "servers:\n  - name: s1\n    host: h\n    port: 28016"},
		{"bad port", "servers:\n  - name: s1\n    host: h\n    port: 99999\n    password: p"},
		{"duplicate names", minimalConfig + "  - name: rust-eu-1\n    host: h2\n    port: 28017\n    password: p"},
		{"lock ttl below poll", minimalConfig + "monitor:\n  poll_interval: 60s\n  lock_ttl: 30s"},
		{"inverted team bounds", minimalConfig + "placement:\n  min_team_size: 5\n  max_team_size: 2"},
		{"not yaml", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
