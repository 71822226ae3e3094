package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dupfind/dupfind/internal/media"
)

func TestAlgoByName_AllFiveKinds(t *testing.T) {
	want := map[string]media.IndexKind{
		"dct":   media.IndexDCT,
		"fdct":  media.IndexFDCT,
		"orb":   media.IndexORB,
		"color": media.IndexColor,
		"video": media.IndexVideo,
	}
	for name, kind := range want {
		got, ok := algoByName(name)
		assert.True(t, ok, name)
		assert.Equal(t, kind, got, name)
	}
}
