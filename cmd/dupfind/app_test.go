package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupfind/dupfind/internal/media"
)

func testBuildApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, flags, err := bindAppFlags(fs)
	require.NoError(t, err)
	require.NoError(t, fs.Parse([]string{
		"--db", filepath.Join(dir, "test.db"),
		"--cache-dir", dir,
	}))

	a, err := buildApp(cfg, flags)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestBuildApp_CreatesEveryIndexKind(t *testing.T) {
	a := testBuildApp(t)
	assert.Len(t, a.indexes, len(indexKindNames))
	for _, k := range indexKindNames {
		_, ok := a.indexes[k.kind]
		assert.True(t, ok, "missing index kind %s", k.name)
	}
}

func TestCachePath(t *testing.T) {
	a := &app{cacheDir: "/tmp/cache"}
	assert.Equal(t, "/tmp/cache/dct.cache", a.cachePath("dct"))
}

func TestLoadAndSaveIndexes_RoundTrip(t *testing.T) {
	a := testBuildApp(t)
	require.NoError(t, a.loadIndexes(context.Background()))
	require.NoError(t, a.saveIndexes())
	for _, k := range indexKindNames {
		assert.True(t, a.indexes[k.kind].IsLoaded())
	}
}

func TestAlgoByName(t *testing.T) {
	kind, ok := algoByName("dct")
	require.True(t, ok)
	assert.Equal(t, media.IndexDCT, kind)

	_, ok = algoByName("not-a-real-index")
	assert.False(t, ok)
}
