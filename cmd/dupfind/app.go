// Command dupfind finds and manages duplicate images and videos: scan a
// directory tree into a content-addressed index, query for matches against
// a needle, or rebuild the on-disk index cache from the SQL store.
package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/dupfind/dupfind/internal/config"
	"github.com/dupfind/dupfind/internal/index"
	"github.com/dupfind/dupfind/internal/logctx"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

// defaultConfigPath is the conventional config location, consulted before
// any flag can be parsed; config.Load tolerates it being absent.
const defaultConfigPath = "dupfind.yaml"

// app bundles the process-wide services every sub-command needs.
type app struct {
	cfg      *config.File
	db       *store.DB
	indexes  map[media.IndexKind]index.Index
	cacheDir string
	log      *logctx.Logger
}

// indexKindNames pairs every index.Index this repo builds with the on-disk
// cache file stem it owns.
var indexKindNames = []struct {
	kind media.IndexKind
	name string
	new  func() index.Index
}{
	{media.IndexDCT, "dct", func() index.Index { return index.NewDCTIndex() }},
	{media.IndexFDCT, "fdct", func() index.Index { return index.NewFDCTIndex() }},
	{media.IndexORB, "orb", func() index.Index { return index.NewORBIndex() }},
	{media.IndexColor, "color", func() index.Index { return index.NewColorIndex() }},
	{media.IndexVideo, "video", func() index.Index { return index.NewVideoIndex() }},
}

// cachePath returns the cache file stem for name, shared between the touch
// marker and the data file (internal/index's Load(cachePath, dataPath)
// contract: both live under the same stem here, distinguished by the
// marker's own ".touch" suffix).
func (a *app) cachePath(name string) string {
	return filepath.Join(a.cacheDir, name+".cache")
}

// bindAppFlags loads the on-disk config and registers its pflag overrides
// on fs. Callers must register any sub-command-specific flags on the same
// fs before calling fs.Parse, then pass the returned config/flags pair to
// buildApp once parsing has happened.
func bindAppFlags(fs *pflag.FlagSet) (*config.File, *config.Flags, error) {
	cfg, err := config.Load(defaultConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", defaultConfigPath, err)
	}
	flags := config.BindFlags(fs, cfg)
	return cfg, flags, nil
}

// buildApp opens the database and constructs every index kind from already
// flag-overridden config. Call only after fs.Parse has run.
func buildApp(cfg *config.File, flags *config.Flags) (*app, error) {
	if *flags.DBPath != "" {
		cfg.DBPath = *flags.DBPath
	}
	if *flags.CacheDir != "" {
		cfg.Cache.Dir = *flags.CacheDir
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "dupfind.db"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "."
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := db.CreateAllTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	indexes := make(map[media.IndexKind]index.Index, len(indexKindNames))
	for _, k := range indexKindNames {
		idx := k.new()
		if err := idx.CreateTables(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		indexes[k.kind] = idx
	}

	return &app{
		cfg:      cfg,
		db:       db,
		indexes:  indexes,
		cacheDir: cfg.Cache.Dir,
		log:      logctx.New(nil),
	}, nil
}

// loadIndexes populates every index's in-memory state from cache or SQL.
func (a *app) loadIndexes(ctx context.Context) error {
	for _, k := range indexKindNames {
		path := a.cachePath(k.name)
		if err := a.indexes[k.kind].Load(ctx, a.db, path, path); err != nil {
			return fmt.Errorf("load %s index: %w", k.name, err)
		}
	}
	return nil
}

// saveIndexes persists every index's in-memory state back to its cache file.
func (a *app) saveIndexes() error {
	for _, k := range indexKindNames {
		if err := a.indexes[k.kind].Save(a.cachePath(k.name)); err != nil {
			return fmt.Errorf("save %s index: %w", k.name, err)
		}
	}
	return nil
}

func (a *app) close() {
	a.db.Close()
}
