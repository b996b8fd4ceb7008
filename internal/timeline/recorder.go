// Package timeline records a machine's status changes as a gap-free log of
// segments scoped to the current shift window, and keeps that log durable
// in a kv.Store across restarts.
package timeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/kv"
	"shiftmonitor/internal/metrics"
	"shiftmonitor/internal/models"
)

const (
	DefaultPersistThrottle = 5 * time.Second
	DefaultRetention       = 9 * time.Hour
	DefaultTickInterval    = time.Second
	DefaultFlushInterval   = 60 * time.Second
)

// Clock returns the current time.
type Clock func() time.Time

// Option customises a Recorder.
type Option func(*Recorder)

// WithClock injects the time source used for persistence and retention.
func WithClock(clock Clock) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// WithShift seeds the shift metadata used to resolve bucket keys.
func WithShift(shift models.ShiftInfo) Option {
	return func(r *Recorder) { r.shift = shift }
}

// WithIntervals overrides the persistence throttle, tick and flush periods.
// Non-positive values keep the defaults.
func WithIntervals(throttle, tick, flush time.Duration) Option {
	return func(r *Recorder) {
		if throttle > 0 {
			r.throttle = throttle
		}
		if tick > 0 {
			r.tickInterval = tick
		}
		if flush > 0 {
			r.flushInterval = flush
		}
	}
}

// WithRetention overrides how old a stored payload may be before it is discarded on restore.
func WithRetention(retention time.Duration) Option {
	return func(r *Recorder) {
		if retention > 0 {
			r.retention = retention
		}
	}
}

// Recorder owns one machine's segment log. It is the only writer of the
// machine's payload and pointer entries. All methods are safe for concurrent use.
type Recorder struct {
	entityID string
	store    kv.Store
	clock    Clock
	log      zerolog.Logger

	throttle      time.Duration
	retention     time.Duration
	tickInterval  time.Duration
	flushInterval time.Duration

	mu            sync.Mutex
	shift         models.ShiftInfo
	key           string
	segments      []models.Segment
	lastPersist   time.Time
	pointerCached string
	needsRestore  bool
	unread        string
	restored      map[string]struct{}

	timersMu     sync.Mutex
	tick         *loop
	flush        *loop
	timersClosed bool

	subsMu     sync.Mutex
	subs       map[int]chan models.TimelineView
	nextSub    int
	subsClosed bool

	closeOnce sync.Once
	closeErr  error
}

// NewRecorder creates an empty recorder for entityID backed by store.
func NewRecorder(entityID string, store kv.Store, opts ...Option) *Recorder {
	r := &Recorder{
		entityID:      entityID,
		store:         store,
		clock:         time.Now,
		log:           zerolog.Nop(),
		throttle:      DefaultPersistThrottle,
		retention:     DefaultRetention,
		tickInterval:  DefaultTickInterval,
		flushInterval: DefaultFlushInterval,
		restored:      make(map[string]struct{}),
		subs:          make(map[int]chan models.TimelineView),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "timeline").Str("machine", entityID).Logger()
	return r
}

// EntityID returns the machine this recorder belongs to.
func (r *Recorder) EntityID() string {
	return r.entityID
}

// Key returns the bucket key the log is currently persisted under.
func (r *Recorder) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// Shift returns the current shift metadata.
func (r *Recorder) Shift() models.ShiftInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shift
}

// Segments returns a copy of the segment log.
func (r *Recorder) Segments() []models.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSegments(r.segments)
}

// SetShift replaces the shift metadata and migrates the log if the bucket key changes.
func (r *Recorder) SetShift(ctx context.Context, shift models.ShiftInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shift = shift
	r.syncKeyLocked(ctx, r.clock())
}

// Ingest records the current status of the machine at now.
func (r *Recorder) Ingest(ctx context.Context, now time.Time, label, color string) {
	label = strings.TrimSpace(label)
	if label == "" {
		r.log.Debug().Msg("ignoring observation without status label")
		return
	}
	if now.IsZero() {
		now = r.clock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.syncKeyLocked(ctx, now)

	kind := r.applyLocked(now, label, color)
	metrics.ObserveIngest(kind)
	if kind == metrics.IngestUnchanged {
		return
	}
	if err := r.persistLocked(ctx, true); err != nil {
		r.log.Warn().Err(err).Str("bucket_key", r.key).Msg("persist after mutation failed; continuing in memory")
	}
}

// applyLocked mutates the log for one observation and reports what happened.
func (r *Recorder) applyLocked(now time.Time, label, color string) string {
	nowMs := now.UnixMilli()
	n := len(r.segments)
	if n == 0 {
		r.segments = append(r.segments, newSegment(label, color, nowMs))
		return metrics.IngestOpened
	}

	active := &r.segments[n-1]
	if active.EndMs != nil {
		// A restored log may end in a closed segment; continue from its end.
		if active.Label == label {
			active.EndMs = nil
			active.Color = color
			return metrics.IngestTransition
		}
		r.segments = append(r.segments, newSegment(label, color, *active.EndMs))
		return metrics.IngestTransition
	}

	if active.Label == label {
		if active.Color == color {
			return metrics.IngestUnchanged
		}
		active.Color = color
		return metrics.IngestRecolor
	}

	end := max(nowMs, active.StartMs)
	active.EndMs = &end
	r.segments = append(r.segments, newSegment(label, color, end))
	return metrics.IngestTransition
}

// Tick returns how long the machine has been in its current state.
func (r *Recorder) Tick(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked(now.UnixMilli())
}

func (r *Recorder) elapsedLocked(nowMs int64) time.Duration {
	if len(r.segments) == 0 {
		return 0
	}
	return time.Duration(r.segments[len(r.segments)-1].DurationMs(nowMs)) * time.Millisecond
}

// View projects the log into a render-ready timeline at now.
func (r *Recorder) View(now time.Time) models.TimelineView {
	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := now.UnixMilli()
	view := models.TimelineView{
		MachineID:   r.entityID,
		BucketKey:   r.key,
		Segments:    make([]models.SegmentView, 0, len(r.segments)),
		IsEmpty:     len(r.segments) == 0,
		GeneratedAt: now,
	}

	var total int64
	for _, seg := range r.segments {
		total += seg.DurationMs(nowMs)
	}
	for _, seg := range r.segments {
		duration := seg.DurationMs(nowMs)
		percent := 100 / float64(len(r.segments))
		if total > 0 {
			percent = float64(duration) / float64(total) * 100
		}
		view.Segments = append(view.Segments, models.SegmentView{
			Label:         seg.Label,
			Color:         seg.Color,
			Percent:       percent,
			DurationLabel: FormatDuration(time.Duration(duration) * time.Millisecond),
			StartMs:       seg.StartMs,
			EndMs:         seg.EndMs,
		})
	}
	view.TotalElapsedLabel = FormatDuration(time.Duration(total) * time.Millisecond)
	if n := len(r.segments); n > 0 {
		view.CurrentStateLabel = r.segments[n-1].Label
		view.ElapsedLabel = FormatDuration(r.elapsedLocked(nowMs))
	}
	return view
}

// FormatDuration renders d as "Xm Ys", or "Xm" when there is no seconds remainder.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalSeconds := int64(d / time.Second)
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if seconds > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dm", minutes)
}

// syncKeyLocked resolves the bucket key for now, migrating when it moved,
// and runs a pending restore before the caller mutates the log.
func (r *Recorder) syncKeyLocked(ctx context.Context, now time.Time) {
	ref := r.shift.ReferenceStart
	if ref.IsZero() {
		ref = now
	}
	if key := bucket.Resolve(r.entityID, r.shift.Label, r.local(ref)); key != r.key {
		r.reconcileLocked(ctx, key)
	}
	if r.needsRestore {
		r.needsRestore = false
		r.restoreLocked(ctx, r.key)
	}
}

// local moves t into the clock's location so the same instant always
// anchors to the same window, whatever offset the caller supplied.
func (r *Recorder) local(t time.Time) time.Time {
	return t.In(r.clock().Location())
}

func newSegment(label, color string, startMs int64) models.Segment {
	return models.Segment{
		ID:      newSegmentID(),
		Label:   label,
		Color:   color,
		StartMs: startMs,
	}
}

func newSegmentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func cloneSegments(in []models.Segment) []models.Segment {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Segment, len(in))
	for i, seg := range in {
		out[i] = seg
		if seg.EndMs != nil {
			end := *seg.EndMs
			out[i].EndMs = &end
		}
	}
	return out
}
