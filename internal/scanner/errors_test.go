package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMap_AddAndSnapshot(t *testing.T) {
	em := NewErrorMap()
	em.Add("/a.jpg", ErrorOpen, "permission denied")
	em.Add("/a.jpg", ErrorLoad, "bad header")
	em.Add("/b.jpg", ErrorTooSmall, "below minimum file size")

	snap := em.Snapshot()
	assert.Len(t, snap["/a.jpg"], 2)
	assert.Equal(t, ErrorOpen, snap["/a.jpg"][0].Kind)
	assert.Equal(t, ErrorLoad, snap["/a.jpg"][1].Kind)
	assert.Len(t, snap["/b.jpg"], 1)
}

func TestErrorMap_SnapshotIsCopy(t *testing.T) {
	em := NewErrorMap()
	em.Add("/a.jpg", ErrorOpen, "x")

	snap := em.Snapshot()
	snap["/a.jpg"] = append(snap["/a.jpg"], FileError{Kind: ErrorLoad, Message: "y"})

	assert.Len(t, em.Snapshot()["/a.jpg"], 1)
}

func TestErrorMap_EmptyByDefault(t *testing.T) {
	em := NewErrorMap()
	assert.Empty(t, em.Snapshot())
}
