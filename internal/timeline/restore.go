package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/metrics"
	"shiftmonitor/internal/models"
)

var (
	errVersionMismatch = errors.New("payload version mismatch")
	errNoSegments      = errors.New("payload has no segments")
	errEntityMismatch  = errors.New("payload belongs to another machine")
	errBrokenSequence  = errors.New("payload segments are not a contiguous sequence")
)

// maxSafeMs bounds timestamps to values that survive a float64 round trip.
const maxSafeMs = 1 << 53

type wirePayload struct {
	Version   int           `json:"version"`
	EntityID  string        `json:"entityId"`
	BucketKey string        `json:"bucketKey"`
	SavedAt   float64       `json:"savedAt"`
	Segments  []wireSegment `json:"segments"`
}

type wireSegment struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Color string   `json:"color"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// Open seeds the recorder before its first observation. Without shift
// metadata the pointer entry locates the live log; otherwise the bucket key
// is resolved from the shift.
func (r *Recorder) Open(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ""
	if r.shift.Label == "" && r.shift.ReferenceStart.IsZero() {
		key = r.pointerLocked(ctx)
	}
	if key == "" {
		ref := r.shift.ReferenceStart
		if ref.IsZero() {
			ref = r.clock()
		}
		key = bucket.Resolve(r.entityID, r.shift.Label, r.local(ref))
	}
	r.key = key
	r.restoreLocked(ctx, key)
}

func (r *Recorder) pointerLocked(ctx context.Context) string {
	raw, ok, err := r.store.Get(ctx, bucket.PointerKey(r.entityID))
	if err != nil {
		r.log.Warn().Err(err).Msg("reading pointer failed")
		return ""
	}
	if !ok || !bucket.OwnedBy(string(raw), r.entityID) {
		return ""
	}
	r.pointerCached = string(raw)
	return string(raw)
}

// Restore loads the payload stored under key into an empty recorder. It runs
// at most once per key so a late read cannot overwrite live progress.
func (r *Recorder) Restore(ctx context.Context, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restoreLocked(ctx, key)
}

func (r *Recorder) restoreLocked(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	if _, done := r.restored[key]; done {
		return false
	}
	retrying := r.unread == key
	if len(r.segments) > 0 && !retrying {
		r.restored[key] = struct{}{}
		return false
	}

	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		metrics.ObserveRestore(metrics.RestoreFailed)
		r.unread = key
		r.needsRestore = true
		r.log.Warn().Err(err).Str("bucket_key", key).Msg("reading stored timeline failed; will retry")
		return false
	}
	r.unread = ""
	r.restored[key] = struct{}{}
	if !ok {
		metrics.ObserveRestore(metrics.RestoreMiss)
		return false
	}

	payload, err := decodePayload(raw, r.entityID)
	if err != nil {
		metrics.ObserveRestore(metrics.RestoreMalformed)
		r.log.Warn().Err(err).Str("bucket_key", key).Msg("discarding malformed stored timeline")
		return false
	}

	now := r.clock()
	age := now.Sub(time.UnixMilli(payload.SavedAt))
	if age > r.retention {
		metrics.ObserveRestore(metrics.RestoreStale)
		r.log.Debug().Str("bucket_key", key).Dur("age", age).Msg("stored timeline past retention")
		return false
	}

	if len(r.segments) > 0 {
		live := len(r.segments)
		r.segments = spliceRestored(payload.Segments, r.segments)
		metrics.ObserveRestore(metrics.RestoreLoaded)
		r.log.Info().
			Str("bucket_key", key).
			Int("stored", len(r.segments)-live).
			Int("live", live).
			Msg("stored timeline merged ahead of observations made while the store was unreadable")
		return true
	}

	r.segments = payload.Segments
	metrics.ObserveRestore(metrics.RestoreLoaded)
	last := r.segments[len(r.segments)-1]
	r.log.Info().
		Str("bucket_key", key).
		Int("segments", len(r.segments)).
		Str("state", last.Label).
		Dur("elapsed", r.elapsedLocked(now.UnixMilli())).
		Msg("timeline restored")
	return true
}

// DecodePayload parses and validates a stored payload.
func DecodePayload(raw []byte) (models.StoredProgressPayload, error) {
	return decodePayload(raw, "")
}

func decodePayload(raw []byte, entityID string) (models.StoredProgressPayload, error) {
	var wire wirePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.StoredProgressPayload{}, fmt.Errorf("parse payload: %w", err)
	}
	if wire.Version != models.PayloadVersion {
		return models.StoredProgressPayload{}, fmt.Errorf("%w: got %d want %d", errVersionMismatch, wire.Version, models.PayloadVersion)
	}
	if entityID != "" && wire.EntityID != "" && wire.EntityID != entityID {
		return models.StoredProgressPayload{}, fmt.Errorf("%w: %s", errEntityMismatch, wire.EntityID)
	}
	if len(wire.Segments) == 0 {
		return models.StoredProgressPayload{}, errNoSegments
	}
	if !finiteMs(wire.SavedAt) {
		return models.StoredProgressPayload{}, fmt.Errorf("invalid savedAt %v", wire.SavedAt)
	}

	segments := make([]models.Segment, 0, len(wire.Segments))
	for i, seg := range wire.Segments {
		if seg.Start == nil || !finiteMs(*seg.Start) {
			return models.StoredProgressPayload{}, fmt.Errorf("segment %d: invalid start", i)
		}
		out := models.Segment{
			ID:      seg.ID,
			Label:   seg.Label,
			Color:   seg.Color,
			StartMs: int64(*seg.Start),
		}
		if seg.End != nil {
			if !finiteMs(*seg.End) {
				return models.StoredProgressPayload{}, fmt.Errorf("segment %d: invalid end", i)
			}
			end := int64(*seg.End)
			out.EndMs = &end
		}
		segments = append(segments, out)
	}

	for i, seg := range segments {
		if seg.EndMs != nil && *seg.EndMs < seg.StartMs {
			return models.StoredProgressPayload{}, fmt.Errorf("%w: segment %d ends before it starts", errBrokenSequence, i)
		}
		if i == len(segments)-1 {
			break
		}
		if seg.EndMs == nil {
			return models.StoredProgressPayload{}, fmt.Errorf("%w: segment %d is open but not last", errBrokenSequence, i)
		}
		if *seg.EndMs != segments[i+1].StartMs {
			return models.StoredProgressPayload{}, fmt.Errorf("%w: segment %d does not end where %d starts", errBrokenSequence, i, i+1)
		}
	}

	return models.StoredProgressPayload{
		Version:   wire.Version,
		EntityID:  wire.EntityID,
		BucketKey: wire.BucketKey,
		SavedAt:   int64(wire.SavedAt),
		Segments:  segments,
	}, nil
}

// spliceRestored puts stored history ahead of a log that was started while
// the store could not be read. Stored segments that begin at or after the
// first live segment are dropped, and the live log is moved back to the
// stored tail's end when the tail closed earlier.
func spliceRestored(stored, live []models.Segment) []models.Segment {
	liveStart := live[0].StartMs
	out := make([]models.Segment, 0, len(stored)+len(live))
	for _, seg := range stored {
		if seg.StartMs >= liveStart {
			break
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return live
	}

	tail := &out[len(out)-1]
	if tail.EndMs == nil || *tail.EndMs > liveStart {
		end := liveStart
		tail.EndMs = &end
	}
	moved := cloneSegments(live)
	moved[0].StartMs = *tail.EndMs
	return append(out, moved...)
}

func finiteMs(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= maxSafeMs
}
