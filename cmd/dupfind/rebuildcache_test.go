package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRebuildCache_DiscardThenReloadRebuildsFromSQL exercises the same
// remove-cache-then-Load sequence runRebuildCache performs, without going
// through the os.Args-driven flag parsing.
func TestRebuildCache_DiscardThenReloadRebuildsFromSQL(t *testing.T) {
	a := testBuildApp(t)
	ctx := context.Background()
	require.NoError(t, a.loadIndexes(ctx))
	require.NoError(t, a.saveIndexes())

	for _, k := range indexKindNames {
		path := a.cachePath(k.name)
		require.NoError(t, os.Remove(path+".touch"))
	}

	require.NoError(t, a.loadIndexes(ctx))
	for _, k := range indexKindNames {
		assert.True(t, a.indexes[k.kind].IsLoaded())
	}
}
