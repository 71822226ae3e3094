// Package config loads persistent tunables from a YAML file and lets CLI
// flags override them, mirroring the teacher's pflag.StringP/BoolP
// long+short flag style (src/appserver.go) paired with gopkg.in/yaml.v3
// for the file format.
package config

import (
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dupfind/dupfind/internal/index"
)

// File is the on-disk YAML configuration: matching tunables plus
// scanner/thread settings.
type File struct {
	DBPath string `yaml:"db_path"`
	Cache  struct {
		Dir string `yaml:"dir"`
	} `yaml:"cache"`
	Params struct {
		DCTThresh        int     `yaml:"dct_thresh"`
		CVThresh         int     `yaml:"cv_thresh"`
		ColorThresh      float64 `yaml:"color_thresh"`
		MinFramesMatched int     `yaml:"min_frames_matched"`
		MinFramesNear    float64 `yaml:"min_frames_near"`
		MaxResults       int     `yaml:"max_results"`
	} `yaml:"params"`
	Threads struct {
		Image    int `yaml:"image"`
		VideoCPU int `yaml:"video_cpu"`
		VideoGPU int `yaml:"video_gpu"`
	} `yaml:"threads"`
}

// Load reads a YAML config file. A missing file returns zero-valued
// defaults rather than an error, matching the teacher's "empty string
// disables feature" tolerance (src/log.go) for optional config.
func Load(path string) (*File, error) {
	f := &File{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Flags is the set of pflag overrides cmd/dupfind binds over a loaded File,
// following the teacher's long+short pflag.StringP/IntP pairing.
type Flags struct {
	DBPath      *string
	CacheDir    *string
	DCTThresh   *int
	CVThresh    *int
	ColorThresh *float64
	MaxResults  *int
}

// BindFlags registers flags on fs, defaulting each to f's current value.
func BindFlags(fs *pflag.FlagSet, f *File) *Flags {
	return &Flags{
		DBPath:      fs.StringP("db", "d", f.DBPath, "Path to the SQLite database."),
		CacheDir:    fs.StringP("cache-dir", "c", f.Cache.Dir, "Directory for index cache files."),
		DCTThresh:   fs.IntP("dct-thresh", "T", f.Params.DCTThresh, "DCT Hamming distance threshold."),
		CVThresh:    fs.IntP("cv-thresh", "V", f.Params.CVThresh, "ORB descriptor distance threshold."),
		ColorThresh: fs.Float64P("color-thresh", "C", f.Params.ColorThresh, "Color descriptor distance threshold."),
		MaxResults:  fs.IntP("max-results", "n", f.Params.MaxResults, "Maximum results per query."),
	}
}

// Apply combines f's values with the parsed flag values and returns the
// resulting index.Params; f itself is not modified.
func Apply(f *File, flags *Flags) index.Params {
	p := index.DefaultParams()
	if f.Params.DCTThresh > 0 {
		p.DCTThresh = f.Params.DCTThresh
	}
	if f.Params.CVThresh > 0 {
		p.CVThresh = f.Params.CVThresh
	}
	if f.Params.ColorThresh > 0 {
		p.ColorThresh = f.Params.ColorThresh
	}
	if f.Params.MinFramesMatched > 0 {
		p.MinFramesMatched = f.Params.MinFramesMatched
	}
	if f.Params.MinFramesNear > 0 {
		p.MinFramesNear = f.Params.MinFramesNear
	}
	if f.Params.MaxResults > 0 {
		p.MaxResults = f.Params.MaxResults
	}
	if flags == nil {
		return p
	}
	if flags.DCTThresh != nil && *flags.DCTThresh > 0 {
		p.DCTThresh = *flags.DCTThresh
	}
	if flags.CVThresh != nil && *flags.CVThresh > 0 {
		p.CVThresh = *flags.CVThresh
	}
	if flags.ColorThresh != nil && *flags.ColorThresh > 0 {
		p.ColorThresh = *flags.ColorThresh
	}
	if flags.MaxResults != nil && *flags.MaxResults > 0 {
		p.MaxResults = *flags.MaxResults
	}
	return p
}
