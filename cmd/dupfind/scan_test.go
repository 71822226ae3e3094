package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupfind/dupfind/internal/media"
)

func TestPurgeRemoved_DeletesOnlyMissingPaths(t *testing.T) {
	a := testBuildApp(t)
	ctx := context.Background()

	m := &media.Media{Type: media.TypeImage, Path: "/photos/gone.jpg"}
	require.NoError(t, a.db.InsertMedia(ctx, m))

	pathToID := map[string]uint32{"/photos/gone.jpg": m.ID}
	expected := map[string]bool{"/photos/gone.jpg": true}

	require.NoError(t, purgeRemoved(ctx, a, expected, pathToID))

	got, err := a.db.MediaByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "media row should have been deleted")
}

func TestPurgeRemoved_NoopOnEmptyExpected(t *testing.T) {
	a := testBuildApp(t)
	ctx := context.Background()
	require.NoError(t, purgeRemoved(ctx, a, map[string]bool{}, map[string]uint32{}))
}
