package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// runRebuildCache discards every index's on-disk cache and touch marker,
// then reloads straight from the SQL store so each index rebuilds and
// re-saves a fresh cache in one step (see index.*Index.Load's touch-marker
// fallback for why deleting the marker alone is enough to force this).
func runRebuildCache(name string) error {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	help := fs.Bool("help", false, "Display help text.")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dupfind rebuild-cache [flags]\n\n")
		fs.PrintDefaults()
	}

	cfg, flags, err := bindAppFlags(fs)
	if err != nil {
		return err
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}
	if *help {
		fs.Usage()
		return nil
	}

	a, err := buildApp(cfg, flags)
	if err != nil {
		return err
	}
	defer a.close()

	for _, k := range indexKindNames {
		path := a.cachePath(k.name)
		os.Remove(path)
		os.Remove(path + ".touch")
	}

	ctx := context.Background()
	if err := a.loadIndexes(ctx); err != nil {
		return err
	}

	for _, k := range indexKindNames {
		fmt.Printf("%-6s rebuilt: %d records\n", k.name, a.indexes[k.kind].Count())
	}
	return nil
}
