package timeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftmonitor/internal/bucket"
	"shiftmonitor/internal/kv"
	"shiftmonitor/internal/models"
)

var shiftStart = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

func morningShift() Option {
	return WithShift(models.ShiftInfo{Label: "Mañana", ReferenceStart: shiftStart})
}

func writePayload(t *testing.T, store kv.Store, key string, savedAt time.Time, segments []models.Segment) {
	t.Helper()
	data, err := json.Marshal(models.StoredProgressPayload{
		Version:   models.PayloadVersion,
		EntityID:  "press-1",
		BucketKey: key,
		SavedAt:   savedAt.UnixMilli(),
		Segments:  segments,
	})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), key, data))
}

func readPayload(t *testing.T, store kv.Store, key string) (models.StoredProgressPayload, bool) {
	t.Helper()
	raw, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	if !ok {
		return models.StoredProgressPayload{}, false
	}
	payload, err := DecodePayload(raw)
	require.NoError(t, err)
	return payload, true
}

func readPointer(t *testing.T, store kv.Store) (string, bool) {
	t.Helper()
	raw, ok, err := store.Get(context.Background(), bucket.PointerKey("press-1"))
	require.NoError(t, err)
	return string(raw), ok
}

func TestPersistWritesPayloadAndPointer(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	clock := newFakeClock(shiftStart.Add(time.Hour))
	r := NewRecorder("press-1", store, WithClock(clock.Now), morningShift())

	r.Ingest(ctx, clock.Now(), "PRODUCCIÓN", "green")

	key := r.Key()
	assert.Equal(t, bucket.Resolve("press-1", "Mañana", shiftStart), key)

	payload, ok := readPayload(t, store, key)
	require.True(t, ok)
	assert.Equal(t, models.PayloadVersion, payload.Version)
	assert.Equal(t, "press-1", payload.EntityID)
	assert.Equal(t, key, payload.BucketKey)
	assert.Equal(t, clock.Now().UnixMilli(), payload.SavedAt)
	assert.Equal(t, r.Segments(), payload.Segments)

	pointer, ok := readPointer(t, store)
	require.True(t, ok)
	assert.Equal(t, key, pointer)
}

func TestPersistThrottlesUnforcedCalls(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	clock := newFakeClock(shiftStart.Add(time.Hour))
	r := NewRecorder("press-1", store, WithClock(clock.Now), morningShift())
	r.Ingest(ctx, clock.Now(), "PRODUCCIÓN", "green")

	clock.Advance(6 * time.Second)
	before := store.totalSets()
	require.NoError(t, r.Persist(ctx, false))
	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, r.Persist(ctx, false))
	assert.Equal(t, 1, store.totalSets()-before, "second unforced persist within the throttle window is a no-op")

	require.NoError(t, r.Persist(ctx, true))
	assert.Equal(t, 2, store.totalSets()-before, "forced persist ignores the throttle")
}

func TestHideForcesPersist(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	clock := newFakeClock(shiftStart.Add(time.Hour))
	r := NewRecorder("press-1", store, WithClock(clock.Now), morningShift())
	r.Ingest(ctx, clock.Now(), "PRODUCCIÓN", "green")

	clock.Advance(time.Second)
	before := store.totalSets()
	r.Hide(ctx)
	assert.Equal(t, 1, store.totalSets()-before)
}

func TestPersistEmptyLogRemovesAbandonedEntries(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	clock := newFakeClock(shiftStart.Add(10 * time.Hour))
	key := bucket.Resolve("press-1", "Mañana", shiftStart)
	writePayload(t, store, key, shiftStart, []models.Segment{{Label: "A", StartMs: shiftStart.UnixMilli()}})
	require.NoError(t, store.Set(ctx, bucket.PointerKey("press-1"), []byte(key)))

	r := NewRecorder("press-1", store, WithClock(clock.Now), morningShift())
	r.Open(ctx)
	require.Empty(t, r.Segments(), "payload past retention is discarded")

	require.NoError(t, r.Persist(ctx, true))
	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = readPointer(t, store)
	assert.False(t, ok)
}

func TestPersistEmptyLogKeepsForeignPointer(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	clock := newFakeClock(shiftStart.Add(time.Hour))
	other := bucket.Resolve("press-1", "Tarde", shiftStart)
	require.NoError(t, store.Set(ctx, bucket.PointerKey("press-1"), []byte(other)))

	r := NewRecorder("press-1", store, WithClock(clock.Now), morningShift())
	r.Open(ctx)
	require.NoError(t, r.Persist(ctx, true))

	pointer, ok := readPointer(t, store)
	require.True(t, ok)
	assert.Equal(t, other, pointer)
}

func TestStoreFailureKeepsLiveState(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(shiftStart.Add(time.Hour))
	r := NewRecorder("press-1", failingStore{failSet: true}, WithClock(clock.Now), morningShift())

	r.Open(ctx)
	r.Ingest(ctx, clock.Now(), "PRODUCCIÓN", "green")
	r.Ingest(ctx, clock.Advance(time.Minute), "PARADA", "red")

	assert.Len(t, r.Segments(), 2)
	assert.Equal(t, "PARADA", r.View(clock.Now()).CurrentStateLabel)
	assert.ErrorIs(t, r.Persist(ctx, true), errQuota)
}

func TestPersistDeferredWhileStoredTimelineUnread(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore(2)
	clock := newFakeClock(shiftStart.Add(time.Hour))
	key := bucket.Resolve("press-1", "Mañana", shiftStart)
	stored := []models.Segment{{ID: "a", Label: "PRODUCCIÓN", StartMs: shiftStart.UnixMilli()}}
	writePayload(t, store.MemoryStore, key, clock.Now(), stored)

	r := NewRecorder("press-1", store, WithClock(clock.Now), morningShift())
	r.Open(ctx)
	require.Empty(t, r.Segments())

	require.NoError(t, r.Persist(ctx, true))
	payload, ok := readPayload(t, store.MemoryStore, key)
	require.True(t, ok, "an empty log must not remove a payload it could not read")
	assert.Len(t, payload.Segments, 1)

	require.NoError(t, r.Close(ctx))
	assert.Equal(t, spans(stored), spans(r.Segments()))
	payload, ok = readPayload(t, store.MemoryStore, key)
	require.True(t, ok)
	assert.Equal(t, spans(stored), spans(payload.Segments))
}
