package diskfmt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dupfind/dupfind/internal/media"
)

// TestVideoIndexRoundTrips checks load(save(v)) == v for arbitrary frame/
// hash sequences.
func TestVideoIndexRoundTrips(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(rt, "n")
		frames := make([]uint16, n)
		hashes := make([]uint64, n)
		for i := 0; i < n; i++ {
			frames[i] = uint16(rapid.IntRange(0, 65535).Draw(rt, "frame"))
			hashes[i] = rapid.Uint64().Draw(rt, "hash")
		}
		v := &media.VideoIndex{Frames: frames, Hashes: hashes}

		path := filepath.Join(dir, "case.vdx")
		require.NoError(rt, WriteVideoIndex(path, v))

		got, err := ReadVideoIndex(path)
		require.NoError(rt, err)
		require.Equal(rt, v.Frames, got.Frames)
		require.Equal(rt, v.Hashes, got.Hashes)
	})
}
