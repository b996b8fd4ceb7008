package models

import "time"

// PayloadVersion tags the persisted progress schema.
const PayloadVersion = 1

// Segment is an interval during which one status label was continuously active.
// EndMs is nil while the segment is open.
type Segment struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Color   string `json:"color"`
	StartMs int64  `json:"start"`
	EndMs   *int64 `json:"end"`
}

// Open reports whether the segment is still active.
func (s Segment) Open() bool {
	return s.EndMs == nil
}

// DurationMs returns the segment length, using nowMs for an open segment.
func (s Segment) DurationMs(nowMs int64) int64 {
	end := nowMs
	if s.EndMs != nil {
		end = *s.EndMs
	}
	if end < s.StartMs {
		return 0
	}
	return end - s.StartMs
}

// StoredProgressPayload is the durable form of one machine's segment log.
type StoredProgressPayload struct {
	Version   int       `json:"version"`
	EntityID  string    `json:"entityId"`
	BucketKey string    `json:"bucketKey"`
	SavedAt   int64     `json:"savedAt"`
	Segments  []Segment `json:"segments"`
}

// SegmentView is the render-ready projection of a single segment.
type SegmentView struct {
	Label         string  `json:"label"`
	Color         string  `json:"color"`
	Percent       float64 `json:"percent"`
	DurationLabel string  `json:"duration_label"`
	StartMs       int64   `json:"start"`
	EndMs         *int64  `json:"end"`
}

// TimelineView is the read-only state handed to the rendering layer.
type TimelineView struct {
	MachineID         string        `json:"machine_id"`
	BucketKey         string        `json:"bucket_key,omitempty"`
	Segments          []SegmentView `json:"segments"`
	IsEmpty           bool          `json:"is_empty"`
	TotalElapsedLabel string        `json:"total_elapsed_label"`
	CurrentStateLabel string        `json:"current_state_label,omitempty"`
	ElapsedLabel      string        `json:"elapsed_label,omitempty"`
	GeneratedAt       time.Time     `json:"generated_at"`
}

// TimelinePoint represents a single compact point in a fixed-resolution bar.
type TimelinePoint struct {
	Label string    `json:"label"`
	Color string    `json:"color,omitempty"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MachineTimeline pairs a machine with its compact bar.
type MachineTimeline struct {
	MachineID   string          `json:"machine_id"`
	MachineName string          `json:"machine_name"`
	Timeline    []TimelinePoint `json:"timeline"`
}
