package timeline

import (
	"context"
	"encoding/json"
	"fmt"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/metrics"
	"shiftmonitor/internal/models"
)

// Persist writes the log under the active bucket key. Unforced calls made
// within the throttle window of the last successful persist are skipped.
func (r *Recorder) Persist(ctx context.Context, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistLocked(ctx, force)
}

func (r *Recorder) persistLocked(ctx context.Context, force bool) error {
	now := r.clock()
	if !force && !r.lastPersist.IsZero() && now.Sub(r.lastPersist) < r.throttle {
		metrics.ObservePersist(metrics.PersistThrottled)
		return nil
	}
	if r.key == "" {
		return nil
	}
	if r.needsRestore {
		r.needsRestore = false
		r.restoreLocked(ctx, r.key)
		if r.needsRestore {
			// what is stored under the key is still unknown; leave it untouched
			metrics.ObservePersist(metrics.PersistDeferred)
			r.log.Debug().Str("bucket_key", r.key).Msg("persist deferred until stored timeline is read")
			return nil
		}
	}

	if len(r.segments) == 0 {
		if err := r.removeEmptyLocked(ctx); err != nil {
			metrics.ObservePersist(metrics.PersistFailed)
			return err
		}
		r.lastPersist = now
		metrics.ObservePersist(metrics.PersistRemoved)
		return nil
	}

	data, err := json.Marshal(models.StoredProgressPayload{
		Version:   models.PayloadVersion,
		EntityID:  r.entityID,
		BucketKey: r.key,
		SavedAt:   now.UnixMilli(),
		Segments:  r.segments,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := r.store.Set(ctx, r.key, data); err != nil {
		metrics.ObservePersist(metrics.PersistFailed)
		return fmt.Errorf("write payload %s: %w", r.key, err)
	}
	if r.pointerCached != r.key {
		if err := r.store.Set(ctx, bucket.PointerKey(r.entityID), []byte(r.key)); err != nil {
			metrics.ObservePersist(metrics.PersistFailed)
			return fmt.Errorf("write pointer: %w", err)
		}
		r.pointerCached = r.key
	}
	r.lastPersist = now
	metrics.ObservePersist(metrics.PersistWritten)
	return nil
}

// removeEmptyLocked drops the payload for an empty log, and the pointer if it still targets it.
func (r *Recorder) removeEmptyLocked(ctx context.Context) error {
	if err := r.store.Remove(ctx, r.key); err != nil {
		return fmt.Errorf("remove payload %s: %w", r.key, err)
	}
	pointerKey := bucket.PointerKey(r.entityID)
	current, ok, err := r.store.Get(ctx, pointerKey)
	if err != nil {
		return fmt.Errorf("read pointer: %w", err)
	}
	if ok && string(current) == r.key {
		if err := r.store.Remove(ctx, pointerKey); err != nil {
			return fmt.Errorf("remove pointer: %w", err)
		}
	}
	r.pointerCached = ""
	return nil
}

// Hide handles the host going to the background: the log is flushed immediately.
func (r *Recorder) Hide(ctx context.Context) {
	if err := r.Persist(ctx, true); err != nil {
		r.log.Warn().Err(err).Msg("persist on hide failed; continuing in memory")
	}
}
