package metrics

import (
	"math"
	"sort"
	"time"

	"shiftmonitor/internal/models"
)

// StateTotal summarises how long a machine spent in one status label.
type StateTotal struct {
	Label       string  `json:"label"`
	Color       string  `json:"color,omitempty"`
	DurationMs  int64   `json:"duration_ms"`
	Percent     float64 `json:"percent"`
	Occurrences int     `json:"occurrences"`
	LastSeen    string  `json:"last_seen,omitempty"`
}

// ComputeStateTotals aggregates time per label across a segment log.
// Results are ordered by descending duration, then label.
func ComputeStateTotals(segments []models.Segment, now time.Time) []StateTotal {
	type acc struct {
		color       string
		duration    int64
		occurrences int
		lastStart   int64
	}
	nowMs := now.UnixMilli()
	state := make(map[string]*acc)
	var total int64
	for _, seg := range segments {
		entry := state[seg.Label]
		if entry == nil {
			entry = &acc{}
			state[seg.Label] = entry
		}
		d := seg.DurationMs(nowMs)
		entry.duration += d
		entry.occurrences++
		entry.color = seg.Color
		if seg.StartMs >= entry.lastStart {
			entry.lastStart = seg.StartMs
		}
		total += d
	}
	if len(state) == 0 {
		return nil
	}

	results := make([]StateTotal, 0, len(state))
	for label, data := range state {
		percent := 0.0
		if total > 0 {
			percent = float64(data.duration) / float64(total) * 100
		}
		results = append(results, StateTotal{
			Label:       label,
			Color:       data.color,
			DurationMs:  data.duration,
			Percent:     round2(percent),
			Occurrences: data.occurrences,
			LastSeen:    time.UnixMilli(data.lastStart).UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].DurationMs != results[j].DurationMs {
			return results[i].DurationMs > results[j].DurationMs
		}
		return results[i].Label < results[j].Label
	})
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
