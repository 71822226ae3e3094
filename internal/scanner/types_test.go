package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dupfind/dupfind/internal/media"
)

func TestClassify_Image(t *testing.T) {
	typ, ok := Classify("/photos/beach.JPG")
	assert.True(t, ok)
	assert.Equal(t, media.TypeImage, typ)
}

func TestClassify_Video(t *testing.T) {
	typ, ok := Classify("/clips/trip.mp4")
	assert.True(t, ok)
	assert.Equal(t, media.TypeVideo, typ)
}

func TestClassify_Unrecognized(t *testing.T) {
	_, ok := Classify("/misc/notes.txt")
	assert.False(t, ok)
}

func TestIsArchive(t *testing.T) {
	assert.True(t, IsArchive("/comics/issue1.cbz"))
	assert.True(t, IsArchive("/comics/issue1.ZIP"))
	assert.False(t, IsArchive("/comics/issue1.rar"))
}
