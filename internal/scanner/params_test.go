package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()

	assert.True(t, p.Recursive)
	assert.True(t, p.Autocrop)
	assert.True(t, p.EstimateCost)
	assert.EqualValues(t, 1024, p.MinFileSize)
	assert.Equal(t, 400, p.NumFeatures)
	assert.Equal(t, 400, p.ResizeLongestSide)
	assert.Equal(t, 4, p.IndexThreads)
	assert.Equal(t, 1, p.GPUThreads)
	assert.Equal(t, 8, p.VideoThreshold)
	assert.Equal(t, 1024, p.WriteBatchSize)
	assert.False(t, p.DryRun)
}
