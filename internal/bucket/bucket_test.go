package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveSameWindowIsDeterministic(t *testing.T) {
	loc := time.UTC
	t1 := time.Date(2024, 3, 5, 8, 0, 0, 0, loc)
	t2 := time.Date(2024, 3, 5, 15, 59, 59, 0, loc)

	assert.Equal(t, Resolve("press-1", "Turno Mañana", t1), Resolve("press-1", "Turno Mañana", t2))
	assert.Equal(t, "shiftline:press-1:turno-manana:20240305-08", Resolve("press-1", "Turno Mañana", t1))
}

func TestResolveCrossesWindowBoundary(t *testing.T) {
	before := time.Date(2024, 3, 5, 15, 59, 59, 0, time.UTC)
	after := time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC)

	assert.NotEqual(t, Resolve("press-1", "A", before), Resolve("press-1", "A", after))
	assert.Equal(t, "20240305-16", AnchorID(after))
	assert.Equal(t, "20240305-00", AnchorID(time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC)))
}

func TestAnchorUsesReferenceLocation(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ref := time.Date(2024, 3, 5, 8, 30, 0, 0, loc)

	assert.Equal(t, "20240305-08", AnchorID(ref))
	assert.Equal(t, "20240305-00", AnchorID(ref.UTC()))
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"PRODUCCIÓN":          "produccion",
		"  Turno   Noche!! ":  "turno-noche",
		"Shift #2 / Línea B":  "shift-2-linea-b",
		"":                    FallbackSlug,
		"***":                 FallbackSlug,
		"Ünïcödé--dashes__ok": "unicode-dashes-ok",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), "slug of %q", in)
	}
}

func TestOwnedBy(t *testing.T) {
	key := Resolve("press-1", "A", time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC))

	assert.True(t, OwnedBy(key, "press-1"))
	assert.False(t, OwnedBy(key, "press-10"))
	assert.False(t, OwnedBy("unrelated:key", "press-1"))
	assert.False(t, OwnedBy(PointerKey("press-1"), "press-1"))
}
