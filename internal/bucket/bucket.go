// Package bucket maps machines and shifts to stable storage keys.
package bucket

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Prefix namespaces every payload key written by a recorder.
	Prefix = "shiftline"
	// FallbackSlug is used when the shift label slugifies to nothing.
	FallbackSlug = "turno"
	// WindowHours is the width of one shift anchor window.
	WindowHours = 8

	separator     = ":"
	pointerPrefix = "shiftline-pointer"
	anchorLayout  = "20060102-15"
)

// Resolve returns the bucket key for entityID within the shift window that
// contains ref. A zero ref means the current time.
func Resolve(entityID, shiftLabel string, ref time.Time) string {
	if ref.IsZero() {
		ref = time.Now()
	}
	return strings.Join([]string{Prefix, entityID, Slug(shiftLabel), AnchorID(ref)}, separator)
}

// Anchor floors ref to the start of its 8-hour window in ref's own location.
func Anchor(ref time.Time) time.Time {
	hour := ref.Hour() - ref.Hour()%WindowHours
	return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, 0, 0, 0, ref.Location())
}

// AnchorID formats the window anchor as a calendar-day plus hour identifier.
func AnchorID(ref time.Time) string {
	return Anchor(ref).Format(anchorLayout)
}

// Slug turns a free-form shift label into a key-safe token.
func Slug(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingHyphen := false
	for _, r := range folded {
		if isSlugRune(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	if b.Len() == 0 {
		return FallbackSlug
	}
	return b.String()
}

func isSlugRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// OwnedBy reports whether key is a payload key belonging to entityID.
func OwnedBy(key, entityID string) bool {
	if key == "" || entityID == "" {
		return false
	}
	return strings.HasPrefix(key, Prefix+separator+entityID+separator)
}

// PointerKey returns the key under which entityID's active bucket key is kept.
func PointerKey(entityID string) string {
	return pointerPrefix + separator + entityID
}
