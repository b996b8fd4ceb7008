package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"shiftmonitor/internal/fleet"
	"shiftmonitor/internal/metrics"
	"shiftmonitor/internal/models"
)

// FeedStatus captures the outcome of the latest poll of a machine's status feed.
type FeedStatus struct {
	MachineID string    `json:"machine_id"`
	OK        bool      `json:"ok"`
	Label     string    `json:"label,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	LatencyMs int64     `json:"latency_ms"`
}

// Monitor periodically polls machine status feeds and feeds the recorders.
type Monitor struct {
	fleet   *fleet.Fleet
	client  *resty.Client
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.RWMutex
	latest map[string]FeedStatus

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a monitor for the machines in f.
func New(f *fleet.Fleet, timeout time.Duration, log zerolog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Monitor{
		fleet:   f,
		client:  client,
		timeout: timeout,
		log:     log.With().Str("component", "monitor").Logger(),
		latest:  make(map[string]FeedStatus),
		stopCh:  make(chan struct{}),
	}
}

// Start launches one polling loop per machine that has a status URL.
func (m *Monitor) Start() {
	for _, machine := range m.fleet.Machines() {
		if machine.StatusURL == "" {
			continue
		}
		m.wg.Add(1)
		go m.run(machine)
	}
}

// Stop requests loop termination and waits until every loop is done.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Latest returns the last feed status for every polled machine.
func (m *Monitor) Latest() map[string]FeedStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]FeedStatus, len(m.latest))
	for k, v := range m.latest {
		out[k] = v
	}
	return out
}

// PollOnce fetches one observation for machine and records it.
func (m *Monitor) PollOnce(ctx context.Context, machine models.Machine) (models.StatusObservation, error) {
	started := time.Now()
	obs, err := m.fetch(ctx, machine)

	status := FeedStatus{
		MachineID: machine.ID,
		CheckedAt: time.Now().UTC(),
		LatencyMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
	} else {
		status.OK = true
		status.Label = obs.Label
	}
	m.mu.Lock()
	m.latest[machine.ID] = status
	m.mu.Unlock()
	metrics.ObservePoll(machine.ID, err == nil)

	if err != nil {
		return obs, err
	}
	rec, ok := m.fleet.Recorder(machine.ID)
	if !ok {
		return obs, fmt.Errorf("no recorder for machine %s", machine.ID)
	}
	rec.Ingest(ctx, obs.ObservedAt, obs.Label, obs.Color)
	return obs, nil
}

func (m *Monitor) run(machine models.Machine) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	log := m.log.With().Str("machine", machine.ID).Logger()
	if _, err := m.PollOnce(ctx, machine); err != nil {
		log.Warn().Err(err).Msg("initial poll failed")
	}

	interval := time.Duration(machine.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.PollOnce(ctx, machine); err != nil {
				log.Warn().Err(err).Msg("poll failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) fetch(ctx context.Context, machine models.Machine) (models.StatusObservation, error) {
	timeout := m.timeout
	if machine.TimeoutSeconds > 0 {
		timeout = time.Duration(machine.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := m.client.R().SetContext(ctx).Get(machine.StatusURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.StatusObservation{}, errors.New("request timed out")
		}
		return models.StatusObservation{}, fmt.Errorf("status request: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 400 {
		return models.StatusObservation{}, fmt.Errorf("status feed returned %s", http.StatusText(resp.StatusCode()))
	}
	return ParseObservation(resp.Body(), machine.StatusField, machine.ColorField, m.fleet.Now())
}

// ParseObservation extracts the status label and colour hint from a JSON
// document. Fields may be dotted paths into nested objects.
func ParseObservation(body []byte, statusField, colorField string, now time.Time) (models.StatusObservation, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.StatusObservation{}, fmt.Errorf("parse status document: %w", err)
	}
	label := strings.TrimSpace(lookupString(doc, statusField))
	if label == "" {
		return models.StatusObservation{}, fmt.Errorf("status field %q missing", statusField)
	}
	return models.StatusObservation{
		Label:      label,
		Color:      lookupString(doc, colorField),
		ObservedAt: now,
	}, nil
}

func lookupString(doc map[string]any, path string) string {
	if path == "" {
		return ""
	}
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[part]
		if !ok {
			return ""
		}
	}
	switch v := current.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
