package history

import (
	"sort"
	"strings"
	"time"

	"shiftmonitor/internal/models"
)

const (
	// DefaultTimelinePoints controls how many points we generate per machine.
	DefaultTimelinePoints = 80
	// MaxTimelinePoints caps caller-supplied resolutions.
	MaxTimelinePoints = 1440

	// NoDataLabel marks points that no segment covers.
	NoDataLabel = "No data"
)

// MachineLog is one machine's segment log together with its display name.
type MachineLog struct {
	ID       string
	Name     string
	Segments []models.Segment
}

// BuildMachineTimelines converts segment logs into compact per-machine bars.
func BuildMachineTimelines(logs []MachineLog, start, end, now time.Time, points int) []models.MachineTimeline {
	if len(logs) == 0 {
		return nil
	}
	sorted := make([]MachineLog, len(logs))
	copy(sorted, logs)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(displayName(sorted[i])) < strings.ToLower(displayName(sorted[j]))
	})

	result := make([]models.MachineTimeline, 0, len(sorted))
	for _, log := range sorted {
		result = append(result, models.MachineTimeline{
			MachineID:   log.ID,
			MachineName: displayName(log),
			Timeline:    BuildSegmentBar(log.Segments, start, end, now, points),
		})
	}
	return result
}

// BuildSegmentBar slices [start, end) into equal points and labels each with
// the status that covered most of it. Open segments extend to now.
func BuildSegmentBar(segments []models.Segment, start, end, now time.Time, points int) []models.TimelinePoint {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if points > MaxTimelinePoints {
		points = MaxTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}

	nowMs := now.UnixMilli()
	output := make([]models.TimelinePoint, 0, points)
	cursor := 0
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		var label, color string
		label, color, cursor = dominantSegment(segments, bucketStart.UnixMilli(), bucketEnd.UnixMilli(), nowMs, cursor)
		output = append(output, models.TimelinePoint{
			Label: label,
			Color: color,
			Start: bucketStart,
			End:   bucketEnd,
		})
	}
	return output
}

// dominantSegment returns the label with the largest overlap of [from, to).
// Segments are ordered, so scanning resumes from cursor.
func dominantSegment(segments []models.Segment, from, to, nowMs int64, cursor int) (label, color string, next int) {
	for cursor < len(segments) && segmentEnd(segments[cursor], nowMs) <= from {
		cursor++
	}

	covered := make(map[string]int64)
	colors := make(map[string]string)
	order := make([]string, 0, 2)
	for i := cursor; i < len(segments); i++ {
		seg := segments[i]
		if seg.StartMs >= to {
			break
		}
		overlap := min(segmentEnd(seg, nowMs), to) - max(seg.StartMs, from)
		if overlap <= 0 {
			continue
		}
		if _, seen := covered[seg.Label]; !seen {
			order = append(order, seg.Label)
		}
		covered[seg.Label] += overlap
		colors[seg.Label] = seg.Color
	}

	if len(order) == 0 {
		return NoDataLabel, "", cursor
	}
	best := order[0]
	for _, candidate := range order[1:] {
		if covered[candidate] > covered[best] {
			best = candidate
		}
	}
	return best, colors[best], cursor
}

func segmentEnd(seg models.Segment, nowMs int64) int64 {
	if seg.EndMs != nil {
		return *seg.EndMs
	}
	return max(nowMs, seg.StartMs)
}

func displayName(log MachineLog) string {
	if log.Name != "" {
		return log.Name
	}
	return log.ID
}
