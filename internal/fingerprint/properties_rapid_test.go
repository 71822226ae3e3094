package fingerprint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/dupfind/dupfind/internal/media"
)

func rapidColorDescriptorOfSize(rt *rapid.T, n int, label string) *media.ColorDescriptor {
	colors := make([]media.ColorEntry, n)
	for i := range colors {
		colors[i] = media.ColorEntry{
			L:      uint16(rapid.IntRange(0, 65535).Draw(rt, label+"-l")),
			U:      uint16(rapid.IntRange(0, 65535).Draw(rt, label+"-u")),
			V:      uint16(rapid.IntRange(0, 65535).Draw(rt, label+"-v")),
			Weight: uint16(rapid.IntRange(0, 65535).Draw(rt, label+"-w")),
		}
	}
	return &media.ColorDescriptor{Colors: colors}
}

// TestColorDistance_SymmetricForUnequalCounts checks ColorDistance(a, b) ==
// ColorDistance(b, a) whenever the two descriptors have different color
// counts: "big" always resolves to whichever side has more colors
// regardless of argument order in that case, so the sum is call-order
// independent. (Equal counts are direction-sensitive by design, since "big"
// then resolves to whichever argument came first, and are not covered by
// this property.)
func TestColorDistance_SymmetricForUnequalCounts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		na := rapid.IntRange(0, 16).Draw(rt, "na")
		nb := na + rapid.IntRange(1, 2).Draw(rt, "nb-delta") // within the diff<=2 non-Inf path, still na != nb

		a := rapidColorDescriptorOfSize(rt, na, "a")
		b := rapidColorDescriptorOfSize(rt, nb, "b")

		ab := ColorDistance(a, b)
		ba := ColorDistance(b, a)
		if math.IsInf(ab, 1) || math.IsInf(ba, 1) {
			assert.Equal(t, ab, ba, "one side is +Inf but not the other")
			return
		}
		assert.InDelta(t, ab, ba, 1e-6, "ColorDistance should not depend on argument order")
	})
}

// TestHammingDistance_Range checks popcount(a^b) never exceeds 64 and is
// zero exactly when a == b.
func TestHammingDistance_Range(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.Uint64().Draw(rt, "a")
		b := rapid.Uint64().Draw(rt, "b")
		d := HammingDistance(a, b)
		assert.GreaterOrEqual(t, d, 0)
		assert.LessOrEqual(t, d, 64)
		assert.Equal(t, a == b, d == 0)
	})
}
