package scanner

// Params mirrors original_source/scanner.h's IndexParams, trimmed to the
// fields this repo's job scheduler and walker actually consult.
type Params struct {
	Recursive         bool
	FollowSymlinks    bool
	Autocrop          bool
	MinFileSize       int64
	NumFeatures       int
	ResizeLongestSide int
	IndexThreads      int // size of the image job pool
	GPUThreads        int // size of the video job pool (gpu_pool), default 1
	VideoThreshold    int // dct threshold for skipping similar nearby frames
	WriteBatchSize    int
	EstimateCost      bool
	DryRun            bool
}

// DefaultParams matches original_source/scanner.h's field initializers.
func DefaultParams() Params {
	return Params{
		Recursive:         true,
		Autocrop:          true,
		MinFileSize:       1024,
		NumFeatures:       400,
		ResizeLongestSide: 400,
		IndexThreads:      4,
		GPUThreads:        1,
		VideoThreshold:    8,
		WriteBatchSize:    1024,
		EstimateCost:      true,
	}
}
