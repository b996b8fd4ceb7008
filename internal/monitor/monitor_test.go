package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftmonitor/internal/config"
	"shiftmonitor/internal/fleet"
	"shiftmonitor/internal/kv"
	"shiftmonitor/internal/models"
)

func TestParseObservation(t *testing.T) {
	now := time.Unix(1700000000, 0)

	obs, err := ParseObservation([]byte(`{"data":{"estado":"PARADA","color":"#f00"}}`), "data.estado", "data.color", now)
	require.NoError(t, err)
	assert.Equal(t, "PARADA", obs.Label)
	assert.Equal(t, "#f00", obs.Color)
	assert.Equal(t, now, obs.ObservedAt)

	obs, err = ParseObservation([]byte(`{"status":3}`), "status", "color", now)
	require.NoError(t, err)
	assert.Equal(t, "3", obs.Label)
	assert.Empty(t, obs.Color)

	_, err = ParseObservation([]byte(`{"status":""}`), "status", "color", now)
	assert.Error(t, err)
	_, err = ParseObservation([]byte(`[1,2]`), "status", "color", now)
	assert.Error(t, err)
}

func newTestMonitor(t *testing.T, url string) (*Monitor, *fleet.Fleet, models.Machine) {
	t.Helper()
	machine := models.Machine{ID: "press-1", Name: "Press 1", StatusURL: url, StatusField: "status", ColorField: "color", PollIntervalSeconds: 1}
	cfg := config.DefaultConfig()
	cfg.Machines = []models.Machine{machine}
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	f := fleet.New(cfg, kv.NewMemoryStore(), zerolog.Nop(), func() time.Time { return now })
	return New(f, time.Second, zerolog.Nop()), f, machine
}

func TestPollOnceIngestsObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"PRODUCCIÓN","color":"green"}`))
	}))
	defer srv.Close()

	m, f, machine := newTestMonitor(t, srv.URL)
	obs, err := m.PollOnce(context.Background(), machine)
	require.NoError(t, err)
	assert.Equal(t, "PRODUCCIÓN", obs.Label)

	rec, _ := f.Recorder("press-1")
	segments := rec.Segments()
	require.Len(t, segments, 1)
	assert.Equal(t, "green", segments[0].Color)

	status := m.Latest()["press-1"]
	assert.True(t, status.OK)
	assert.Equal(t, "PRODUCCIÓN", status.Label)
}

func TestPollOnceRecordsFeedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m, f, machine := newTestMonitor(t, srv.URL)
	_, err := m.PollOnce(context.Background(), machine)
	require.Error(t, err)

	status := m.Latest()["press-1"]
	assert.False(t, status.OK)
	assert.Contains(t, status.Error, "Bad Gateway")

	rec, _ := f.Recorder("press-1")
	assert.Empty(t, rec.Segments())
}

func TestStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"RUN"}`))
	}))
	defer srv.Close()

	m, f, _ := newTestMonitor(t, srv.URL)
	m.Start()
	rec, _ := f.Recorder("press-1")
	assert.Eventually(t, func() bool { return len(rec.Segments()) == 1 }, 2*time.Second, 10*time.Millisecond)
	m.Stop()
	m.Stop()
}
