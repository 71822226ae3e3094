package main

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/spf13/pflag"

	"github.com/dupfind/dupfind/internal/config"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/query"
	"github.com/dupfind/dupfind/internal/scanner"
	"github.com/dupfind/dupfind/internal/template"
)

// algoByName maps the --algo flag's value onto a media.IndexKind, mirroring
// indexKindNames' stems so both flags and cache file names agree.
func algoByName(name string) (media.IndexKind, bool) {
	for _, k := range indexKindNames {
		if k.name == name {
			return k.kind, true
		}
	}
	return 0, false
}

func runQuery(name string) error {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	algo := fs.StringP("algo", "a", "dct", "Index to query: dct, fdct, orb, color, or video.")
	mirrorH := fs.Bool("mirror-h", false, "Also search the horizontally mirrored needle.")
	mirrorV := fs.Bool("mirror-v", false, "Also search the vertically mirrored needle.")
	templateMatch := fs.Bool("template-match", false, "Confirm candidates with template matching before reporting them.")
	help := fs.Bool("help", false, "Display help text.")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dupfind query [flags] <path>\n\n")
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
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("exactly one needle path is required")
	}
	needlePath := fs.Arg(0)

	kind, ok := algoByName(*algo)
	if !ok {
		return fmt.Errorf("--algo: unknown index %q", *algo)
	}

	a, err := buildApp(cfg, flags)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.loadIndexes(ctx); err != nil {
		return err
	}

	s := scanner.New(scanner.DefaultParams(), a.db, a.indexes, a.log)
	needle, needleImage, err := s.ProcessNeedleImage(ctx, needlePath)
	if err != nil {
		return fmt.Errorf("fingerprint needle: %w", err)
	}

	var mirrorMask query.MirrorBit
	if *mirrorH {
		mirrorMask |= query.MirrorH
	}
	if *mirrorV {
		mirrorMask |= query.MirrorV
	}

	engine := &query.Engine{
		Indexes:            a.indexes,
		DB:                 a.db,
		Template:           template.New(),
		LoadCandidateImage: a.loadCandidateImage,
		MediaByID:          a.db.MediaByID,
	}

	search := query.Search{
		Needle:        needle,
		NeedleImage:   needleImage,
		Algo:          kind,
		Params:        config.Apply(cfg, flags),
		MirrorMask:    mirrorMask,
		TemplateMatch: *templateMatch,
	}

	results, err := engine.Run(ctx, search)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no matches found")
		return nil
	}
	for _, m := range results {
		fmt.Printf("%s\n", m.Path)
	}
	return nil
}

// loadCandidateImage decodes a matched media's source file, for the query
// engine's optional template-match confirmation pass.
func (a *app) loadCandidateImage(ctx context.Context, m *media.Media) (image.Image, error) {
	s := scanner.New(scanner.DefaultParams(), a.db, a.indexes, a.log)
	_, img, err := s.ProcessNeedleImage(ctx, m.Path)
	return img, err
}
