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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, 9, cfg.Timeline.RetentionHours)
	require.Len(t, cfg.Machines, 1)
	assert.Equal(t, "status", cfg.Machines[0].StatusField)
}

func TestLoadAppliesMachineDefaults(t *testing.T) {
	path := writeConfig(t, `
poll_interval_seconds: 30
default_shift_label: Mañana
timezone: UTC
machines:
  - id: press-1
    status_url: http://plc.local/press-1
  - id: lathe-2
    name: Lathe 2
    status_field: estado
    poll_interval_seconds: 5
    shift_label: Noche
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Machines, 2)

	press := cfg.Machines[0]
	assert.Equal(t, "press-1", press.Name)
	assert.Equal(t, 30, press.PollIntervalSeconds)
	assert.Equal(t, "Mañana", press.ShiftLabel)
	assert.Equal(t, "color", press.ColorField)

	lathe, ok := cfg.Machine("lathe-2")
	require.True(t, ok)
	assert.Equal(t, "estado", lathe.StatusField)
	assert.Equal(t, 5, lathe.PollIntervalSeconds)
	assert.Equal(t, "Noche", lathe.ShiftLabel)
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SHIFTMONITOR_STORE_DRIVER", "sqlite")
	t.Setenv("SHIFTMONITOR_DATA_DIRECTORY", "/var/lib/shiftmonitor")
	t.Setenv("SHIFTMONITOR_STORE_TIMEOUT_MS", "750")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/shiftmonitor", cfg.DataDirectory)
	assert.Equal(t, int64(750), cfg.StoreTimeout().Milliseconds())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"no machines":      "machines: []\n",
		"missing id":       "machines:\n  - name: x\n",
		"duplicate id":     "machines:\n  - id: a\n  - id: a\n",
		"separator in id":  "machines:\n  - id: a\n  - id: \"a:b\"\n",
		"space in id":      "machines:\n  - id: \"press 1\"\n",
		"unknown driver":   "store:\n  driver: redis\n",
		"postgres w/o dsn": "store:\n  driver: postgres\n",
		"bad timezone":     "timezone: Mars/Olympus\n",
		"malformed yaml":   "machines: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
