package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/fleet"
	"shiftmonitor/internal/history"
	"shiftmonitor/internal/metrics"
	"shiftmonitor/internal/models"
	"shiftmonitor/internal/monitor"
	"shiftmonitor/internal/timeline"
)

// FeedReporter exposes the latest poll outcome per machine.
type FeedReporter interface {
	Latest() map[string]monitor.FeedStatus
}

// Server wraps HTTP serving of the machine timeline API.
type Server struct {
	httpServer *http.Server
	fleet      *fleet.Fleet
	feeds      FeedReporter
	log        zerolog.Logger
}

// New creates a configured HTTP server. feeds may be nil when no machine is polled.
func New(addr string, f *fleet.Fleet, feeds FeedReporter, log zerolog.Logger) *Server {
	s := &Server{
		fleet: f,
		feeds: feeds,
		log:   log.With().Str("component", "server").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router builds the request router.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/machines", s.handleMachines).Methods(http.MethodGet)
	api.HandleFunc("/overview", s.handleOverview).Methods(http.MethodGet)
	api.HandleFunc("/overview/ws", s.handleOverviewWS).Methods(http.MethodGet)
	api.HandleFunc("/visibility", s.handleFleetVisibility).Methods(http.MethodPost)

	m := api.PathPrefix("/machines/{id}").Subrouter()
	m.HandleFunc("/timeline", s.withRecorder(s.handleTimeline)).Methods(http.MethodGet)
	m.HandleFunc("/ws", s.withRecorder(s.handleTimelineWS)).Methods(http.MethodGet)
	m.HandleFunc("/status", s.withRecorder(s.handleStatus)).Methods(http.MethodPost)
	m.HandleFunc("/shift", s.withRecorder(s.handleShift)).Methods(http.MethodPut)
	m.HandleFunc("/visibility", s.withRecorder(s.handleVisibility)).Methods(http.MethodPost)
	m.HandleFunc("/summary", s.withRecorder(s.handleSummary)).Methods(http.MethodGet)
	m.HandleFunc("/bars", s.withRecorder(s.handleBars)).Methods(http.MethodGet)
	return r
}

type recorderHandler func(w http.ResponseWriter, r *http.Request, rec *timeline.Recorder)

func (s *Server) withRecorder(next recorderHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		rec, ok := s.fleet.Recorder(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown machine "+id)
			return
		}
		next(w, r, rec)
	}
}

type machineEntry struct {
	models.Machine
	CurrentState string              `json:"current_state,omitempty"`
	Elapsed      string              `json:"elapsed,omitempty"`
	BucketKey    string              `json:"bucket_key,omitempty"`
	Feed         *monitor.FeedStatus `json:"feed,omitempty"`
}

func (s *Server) handleMachines(w http.ResponseWriter, _ *http.Request) {
	now := s.fleet.Now()
	var feeds map[string]monitor.FeedStatus
	if s.feeds != nil {
		feeds = s.feeds.Latest()
	}

	machines := s.fleet.Machines()
	out := make([]machineEntry, 0, len(machines))
	for _, m := range machines {
		rec, _ := s.fleet.Recorder(m.ID)
		view := rec.View(now)
		entry := machineEntry{
			Machine:      m,
			CurrentState: view.CurrentStateLabel,
			Elapsed:      view.ElapsedLabel,
			BucketKey:    view.BucketKey,
		}
		if feed, ok := feeds[m.ID]; ok {
			entry.Feed = &feed
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request, rec *timeline.Recorder) {
	writeJSON(w, http.StatusOK, rec.View(s.fleet.Now()))
}

type statusRequest struct {
	Label      string     `json:"label"`
	Color      string     `json:"color"`
	ObservedAt *time.Time `json:"observed_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, rec *timeline.Recorder) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	now := s.fleet.Now()
	if req.ObservedAt != nil && !req.ObservedAt.IsZero() {
		now = *req.ObservedAt
	}
	rec.Ingest(r.Context(), now, req.Label, req.Color)
	writeJSON(w, http.StatusOK, rec.View(s.fleet.Now()))
}

type shiftRequest struct {
	ShiftLabel     string     `json:"shift_label"`
	ReferenceStart *time.Time `json:"reference_start"`
}

type shiftResponse struct {
	MachineID string           `json:"machine_id"`
	Shift     models.ShiftInfo `json:"shift"`
	BucketKey string           `json:"bucket_key"`
}

func (s *Server) handleShift(w http.ResponseWriter, r *http.Request, rec *timeline.Recorder) {
	var req shiftRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shift := models.ShiftInfo{Label: strings.TrimSpace(req.ShiftLabel)}
	if req.ReferenceStart != nil {
		shift.ReferenceStart = *req.ReferenceStart
	}
	rec.SetShift(r.Context(), shift)
	writeJSON(w, http.StatusOK, shiftResponse{
		MachineID: rec.EntityID(),
		Shift:     rec.Shift(),
		BucketKey: rec.Key(),
	})
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, rec *timeline.Recorder) {
	var req visibilityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Hidden {
		rec.Hide(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFleetVisibility flushes every machine when the dashboard as a whole is hidden.
func (s *Server) handleFleetVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Hidden {
		s.fleet.Hide(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

type summaryResponse struct {
	MachineID   string               `json:"machine_id"`
	BucketKey   string               `json:"bucket_key"`
	States      []metrics.StateTotal `json:"states"`
	GeneratedAt time.Time            `json:"generated_at"`
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request, rec *timeline.Recorder) {
	now := s.fleet.Now()
	writeJSON(w, http.StatusOK, summaryResponse{
		MachineID:   rec.EntityID(),
		BucketKey:   rec.Key(),
		States:      metrics.ComputeStateTotals(rec.Segments(), now),
		GeneratedAt: now,
	})
}

type barsResponse struct {
	MachineID   string                 `json:"machine_id"`
	RangeStart  time.Time              `json:"range_start"`
	RangeEnd    time.Time              `json:"range_end"`
	Points      []models.TimelinePoint `json:"points"`
	GeneratedAt time.Time              `json:"generated_at"`
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request, rec *timeline.Recorder) {
	now := s.fleet.Now()
	start, end := shiftWindow(rec.Shift(), now)
	points := parseLimit(r, "points", history.DefaultTimelinePoints, history.MaxTimelinePoints)
	writeJSON(w, http.StatusOK, barsResponse{
		MachineID:   rec.EntityID(),
		RangeStart:  start,
		RangeEnd:    end,
		Points:      history.BuildSegmentBar(rec.Segments(), start, end, now, points),
		GeneratedAt: now,
	})
}

// shiftWindow returns the shift window containing the reference start, or now.
func shiftWindow(shift models.ShiftInfo, now time.Time) (time.Time, time.Time) {
	ref := shift.ReferenceStart
	if ref.IsZero() {
		ref = now
	}
	start := bucket.Anchor(ref.In(now.Location()))
	return start, start.Add(bucket.WindowHours * time.Hour)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func parseLimit(r *http.Request, param string, fallback, limit int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > limit {
		return limit
	}
	return value
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
