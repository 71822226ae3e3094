package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"

	"github.com/dupfind/dupfind/internal/scanner"
)

func runScan(name string) error {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	recursive := fs.BoolP("recursive", "r", true, "Recurse into subdirectories.")
	followSymlinks := fs.Bool("follow-symlinks", false, "Follow symbolic links while walking.")
	autocrop := fs.Bool("autocrop", true, "Auto-crop uniform borders before fingerprinting.")
	threads := fs.IntP("threads", "j", 4, "Image worker pool size.")
	gpuThreads := fs.Int("gpu-threads", 1, "Video worker pool size.")
	dryRun := fs.Bool("dry-run", false, "Walk and classify only; do not fingerprint or write.")
	modifiedSinceFlag := fs.String("modified-since", "", "RFC3339 timestamp; only files modified after this are rescanned.")
	timestampFormat := fs.String("timestamp-format", "%Y-%m-%d %H:%M:%S", "strftime format for the completion timestamp.")
	help := fs.Bool("help", false, "Display help text.")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dupfind scan [flags] <root>...\n\n")
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
	roots := fs.Args()
	if len(roots) == 0 {
		fs.Usage()
		return fmt.Errorf("at least one root directory is required")
	}

	a, err := buildApp(cfg, flags)
	if err != nil {
		return err
	}
	defer a.close()

	var modifiedSince time.Time
	if *modifiedSinceFlag != "" {
		modifiedSince, err = time.Parse(time.RFC3339, *modifiedSinceFlag)
		if err != nil {
			return fmt.Errorf("--modified-since: %w", err)
		}
	}

	params := scanner.DefaultParams()
	params.Recursive = *recursive
	params.FollowSymlinks = *followSymlinks
	params.Autocrop = *autocrop
	params.IndexThreads = *threads
	params.GPUThreads = *gpuThreads
	params.DryRun = *dryRun

	s := scanner.New(params, a.db, a.indexes, a.log)

	ctx, stop := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sig; ok {
			s.Flush(true)
			stop()
		}
	}()
	defer func() {
		signal.Stop(sig)
		close(sig)
		stop()
	}()

	for _, root := range roots {
		root = filepath.Clean(root)
		pathToID, err := a.db.AllMediaPaths(ctx)
		if err != nil {
			return err
		}
		expected := make(map[string]bool, len(pathToID))
		for p := range pathToID {
			expected[p] = true
		}

		if err := s.ScanDirectory(ctx, root, expected, modifiedSince); err != nil {
			return fmt.Errorf("scan %s: %w", root, err)
		}

		if err := purgeRemoved(ctx, a, expected, pathToID); err != nil {
			return err
		}
	}

	if !params.DryRun {
		if err := a.saveIndexes(); err != nil {
			return err
		}
	}

	finished, _ := strftime.Format(*timestampFormat, time.Now())
	fmt.Printf("scan complete at %s\n", finished)
	for path, errs := range s.Errors.Snapshot() {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", path, e.Kind, e.Message)
		}
	}
	return nil
}

// purgeRemoved deletes media rows (and their index-owned data) for every
// path still in expected after a scan: those are exactly the
// previously-known paths that were not seen on this walk.
func purgeRemoved(ctx context.Context, a *app, expected map[string]bool, pathToID map[string]uint32) error {
	if len(expected) == 0 {
		return nil
	}
	ids := make([]uint32, 0, len(expected))
	for path := range expected {
		if id, ok := pathToID[path]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := a.db.DeleteMedia(ctx, ids); err != nil {
		return err
	}
	for _, idx := range a.indexes {
		if err := idx.RemoveRecords(ctx, a.db, ids); err != nil {
			return err
		}
		idx.Remove(ids)
	}
	return nil
}
