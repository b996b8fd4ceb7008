package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"shiftmonitor/internal/history"
	"shiftmonitor/internal/models"
	"shiftmonitor/internal/timeline"
)

const (
	overviewPushInterval = 10 * time.Second
	wsWriteTimeout       = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

type overviewSnapshot struct {
	GeneratedAt time.Time                `json:"generated_at"`
	RangeStart  time.Time                `json:"range_start"`
	RangeEnd    time.Time                `json:"range_end"`
	Points      int                      `json:"points"`
	Machines    []models.MachineTimeline `json:"machines"`
}

func (s *Server) buildOverviewSnapshot(points int) overviewSnapshot {
	now := s.fleet.Now()
	start, end := shiftWindow(models.ShiftInfo{}, now)

	machines := s.fleet.Machines()
	logs := make([]history.MachineLog, 0, len(machines))
	for _, m := range machines {
		rec, _ := s.fleet.Recorder(m.ID)
		logs = append(logs, history.MachineLog{ID: m.ID, Name: m.Name, Segments: rec.Segments()})
	}
	return overviewSnapshot{
		GeneratedAt: now,
		RangeStart:  start,
		RangeEnd:    end,
		Points:      points,
		Machines:    history.BuildMachineTimelines(logs, start, end, now, points),
	}
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	points := parseLimit(r, "points", history.DefaultTimelinePoints, history.MaxTimelinePoints)
	writeJSON(w, http.StatusOK, s.buildOverviewSnapshot(points))
}

func (s *Server) handleOverviewWS(w http.ResponseWriter, r *http.Request) {
	points := parseLimit(r, "points", history.DefaultTimelinePoints, history.MaxTimelinePoints)
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := writeWSPayload(conn, s.buildOverviewSnapshot(points)); err != nil {
		return
	}

	ticker := time.NewTicker(overviewPushInterval)
	defer ticker.Stop()
	done := readUntilClosed(conn)

	for {
		select {
		case <-ticker.C:
			if err := writeWSPayload(conn, s.buildOverviewSnapshot(points)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleTimelineWS pushes the machine's view on every recorder tick.
func (s *Server) handleTimelineWS(w http.ResponseWriter, r *http.Request, rec *timeline.Recorder) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	views, cancel := rec.Subscribe()
	defer cancel()

	if err := writeWSPayload(conn, rec.View(s.fleet.Now())); err != nil {
		return
	}
	done := readUntilClosed(conn)

	for {
		select {
		case view, ok := <-views:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := writeWSPayload(conn, view); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readUntilClosed drains client frames and closes the returned channel once the peer goes away.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func writeWSPayload(conn *websocket.Conn, payload any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(payload)
}
