package scanner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupfind/dupfind/internal/index"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

func newTestSink(t *testing.T, batchSize int) (*Sink, *store.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	color := index.NewColorIndex()
	require.NoError(t, color.CreateTables(ctx, db))

	return NewSink(db, map[media.IndexKind]index.Index{media.IndexColor: color}, batchSize), db
}

func TestSink_FlushesOnBatchSize(t *testing.T) {
	ctx := context.Background()
	sink, db := newTestSink(t, 2)

	m1 := &media.Media{Type: media.TypeImage, Path: "/a.jpg", ContentDigest: "d1"}
	m2 := &media.Media{Type: media.TypeImage, Path: "/b.jpg", ContentDigest: "d2"}

	require.NoError(t, sink.Add(ctx, m1))
	assert.Zero(t, m1.ID, "not yet flushed, id should still be zero")

	require.NoError(t, sink.Add(ctx, m2))
	assert.NotZero(t, m2.ID, "batch full, Add should have flushed and assigned ids")

	paths, err := db.AllMediaPaths(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestSink_FlushesOnVideoJob(t *testing.T) {
	ctx := context.Background()
	sink, db := newTestSink(t, 100)

	m := &media.Media{Type: media.TypeVideo, Path: "/clip.mp4", ContentDigest: "d3", Width: -1, Height: -1}
	require.NoError(t, sink.Add(ctx, m))

	assert.NotZero(t, m.ID)
	paths, err := db.AllMediaPaths(ctx)
	require.NoError(t, err)
	assert.Contains(t, paths, "/clip.mp4")
}

func TestSink_CommitIsNoopWhenEmpty(t *testing.T) {
	sink, _ := newTestSink(t, 10)
	assert.NoError(t, sink.Commit(context.Background()))
}

func TestSink_ExplicitCommitFlushesPartialBatch(t *testing.T) {
	ctx := context.Background()
	sink, db := newTestSink(t, 10)

	m := &media.Media{Type: media.TypeImage, Path: "/a.jpg", ContentDigest: "d1"}
	require.NoError(t, sink.Add(ctx, m))
	assert.Zero(t, m.ID, "batch below size, should not have flushed yet")

	require.NoError(t, sink.Commit(ctx))
	assert.NotZero(t, m.ID)

	paths, err := db.AllMediaPaths(ctx)
	require.NoError(t, err)
	assert.Contains(t, paths, "/a.jpg")
}
