package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dupfind/dupfind/internal/index"
	"github.com/dupfind/dupfind/internal/media"
)

func TestTypeAllowed_EmptyMeansAll(t *testing.T) {
	assert.True(t, typeAllowed(media.TypeImage, nil))
}

func TestTypeAllowed_Restricted(t *testing.T) {
	assert.True(t, typeAllowed(media.TypeVideo, []media.Type{media.TypeVideo, media.TypeAudio}))
	assert.False(t, typeAllowed(media.TypeImage, []media.Type{media.TypeVideo, media.TypeAudio}))
}

func TestUnionMatches_Dedupes(t *testing.T) {
	a := []index.Match{{MediaID: 1}, {MediaID: 2}}
	b := []index.Match{{MediaID: 2}, {MediaID: 3}}
	out := unionMatches(a, b)
	assert.Len(t, out, 3)
}

func TestClassify_Exact(t *testing.T) {
	needle := &media.Media{ContentDigest: "abc", Width: 10, Height: 10, OriginalSize: 100, CompressionRatio: 0.5}
	cand := &media.Media{ContentDigest: "abc", Width: 10, Height: 10, OriginalSize: 100, CompressionRatio: 0.5}
	classify(needle, []*media.Media{cand})
	assert.True(t, cand.MatchFlags.Has(media.MatchExact))
	assert.False(t, cand.MatchFlags.Has(media.MatchBiggerDimensions))
}

func TestClassify_BiggerDimensionsAndFileAndLessCompressed(t *testing.T) {
	needle := &media.Media{ContentDigest: "abc", Width: 10, Height: 10, OriginalSize: 100, CompressionRatio: 0.5}
	cand := &media.Media{ContentDigest: "def", Width: 20, Height: 20, OriginalSize: 200, CompressionRatio: 0.1}
	classify(needle, []*media.Media{cand})
	assert.False(t, cand.MatchFlags.Has(media.MatchExact))
	assert.True(t, cand.MatchFlags.Has(media.MatchBiggerDimensions))
	assert.True(t, cand.MatchFlags.Has(media.MatchBiggerFile))
	assert.True(t, cand.MatchFlags.Has(media.MatchLessCompressed))
}

func TestMergeConnectedGroups_Chains(t *testing.T) {
	pairs := [][2]uint32{{1, 2}, {2, 3}, {10, 11}}
	groups := MergeConnectedGroups(pairs)
	assert.Len(t, groups, 2)
	assert.Equal(t, []uint32{1, 2, 3}, groups[0])
	assert.Equal(t, []uint32{10, 11}, groups[1])
}

func TestExpandGroups(t *testing.T) {
	needle := &media.Media{ID: 1}
	group := []*media.Media{{ID: 2}, {ID: 3}}
	pairs := ExpandGroups(needle, group)
	assert.Equal(t, [][2]uint32{{1, 2}, {1, 3}}, pairs)
}

func TestFilter_DropsSelfAndSameParent(t *testing.T) {
	e := &Engine{}
	needle := &media.Media{ID: 1, Path: "/photos/a.jpg"}
	self := &media.Media{ID: 1, Path: "/photos/a.jpg"}
	sameParent := &media.Media{ID: 2, Path: "/photos/b.jpg"}
	other := &media.Media{ID: 3, Path: "/elsewhere/c.jpg"}

	out, err := e.filter(nil, needle, []*media.Media{self, sameParent, other})
	assert.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, uint32(3), out[0].ID)
}

func TestFilter_Dedupes(t *testing.T) {
	e := &Engine{}
	needle := &media.Media{ID: 1, Path: "/photos/a.jpg"}
	dup1 := &media.Media{ID: 5, Path: "/elsewhere/c.jpg"}
	dup2 := &media.Media{ID: 5, Path: "/elsewhere/c.jpg"}

	out, err := e.filter(nil, needle, []*media.Media{dup1, dup2})
	assert.NoError(t, err)
	assert.Len(t, out, 1)
}
