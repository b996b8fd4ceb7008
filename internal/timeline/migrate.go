package timeline

import (
	"context"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/metrics"
)

// Reconcile moves the recorder onto newKey. A non-empty log is written under
// newKey before the previous payload is removed; an empty recorder instead
// restores whatever is already stored under newKey.
func (r *Recorder) Reconcile(ctx context.Context, newKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconcileLocked(ctx, newKey)
	if r.needsRestore {
		r.needsRestore = false
		r.restoreLocked(ctx, r.key)
	}
}

func (r *Recorder) reconcileLocked(ctx context.Context, newKey string) {
	if newKey == "" || newKey == r.key {
		return
	}
	previous := r.key
	keepPrevious := r.unread != "" && r.unread == previous
	r.key = newKey

	if len(r.segments) == 0 {
		r.needsRestore = true
		metrics.ObserveMigration(metrics.MigrationDeferred)
		r.log.Debug().Str("bucket_key", newKey).Msg("bucket key changed on empty log; restore pending")
		return
	}

	if err := r.persistLocked(ctx, true); err != nil {
		metrics.ObserveMigration(metrics.MigrationFailed)
		r.log.Warn().Err(err).
			Str("from", previous).
			Str("to", newKey).
			Msg("relocating timeline failed; previous payload kept")
		return
	}
	metrics.ObserveMigration(metrics.MigrationRelocated)

	if previous == "" || keepPrevious || !bucket.OwnedBy(previous, r.entityID) {
		return
	}
	if err := r.store.Remove(ctx, previous); err != nil {
		r.log.Warn().Err(err).Str("bucket_key", previous).Msg("removing previous payload failed")
		return
	}
	r.log.Info().Str("from", previous).Str("to", newKey).Int("segments", len(r.segments)).Msg("timeline relocated")
}
