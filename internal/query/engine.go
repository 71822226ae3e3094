// Package query implements the query engine: composing an index's Find
// with mirror variants and template-match post-filtering, then
// classifying, filtering, and merging the resulting matches.
package query

import (
	"context"
	"image"
	"image/draw"
	"sort"

	"github.com/dupfind/dupfind/internal/fingerprint"
	"github.com/dupfind/dupfind/internal/index"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
	"github.com/dupfind/dupfind/internal/template"
)

// MirrorBit selects which mirrored variant of the needle to additionally
// search.
type MirrorBit int

const (
	MirrorNone MirrorBit = 0
	MirrorH    MirrorBit = 1 << iota
	MirrorV
)

// Search is the input to Engine.Run: a needle, the search parameters, and
// the constraints governing which matches come back.
type Search struct {
	Needle        *media.Media
	NeedleImage   image.Image // required if TemplateMatch or a mirror bit is set
	Algo          media.IndexKind
	Params        index.Params
	QueryTypes    []media.Type
	MirrorMask    MirrorBit
	TemplateMatch bool
}

// Engine composes an index set, a weed/negative-match store, and a template
// matcher to answer a Search.
type Engine struct {
	Indexes  map[media.IndexKind]index.Index
	DB       *store.DB
	Template *template.Matcher

	// LoadCandidateImage resolves a matched media id back to a decoded
	// image, needed only when TemplateMatch is requested.
	LoadCandidateImage func(ctx context.Context, m *media.Media) (image.Image, error)
	// MediaByID resolves a match's media id to a full Media record, needed
	// to classify and filter results.
	MediaByID func(ctx context.Context, id uint32) (*media.Media, error)
}

// Run finds candidates for the needle, optionally searches mirrored
// variants and template-matches each survivor, classifies and sorts the
// results, and applies the final filter pass.
func (e *Engine) Run(ctx context.Context, s Search) ([]*media.Media, error) {
	if !typeAllowed(s.Needle.Type, s.QueryTypes) {
		return nil, nil
	}
	idx, ok := e.Indexes[s.Algo]
	if !ok || !s.Needle.ReadyFor(s.Algo) {
		return nil, nil
	}

	found, err := idx.Find(s.Needle, s.Params)
	if err != nil {
		return nil, err
	}

	if s.MirrorMask != MirrorNone && s.NeedleImage != nil {
		mirrored, err := e.mirrorAndRefind(s, idx)
		if err != nil {
			return nil, err
		}
		found = unionMatches(found, mirrored)
	}

	results := make([]*media.Media, 0, len(found))
	for _, m := range found {
		cand, err := e.MediaByID(ctx, m.MediaID)
		if err != nil || cand == nil {
			continue
		}
		cand = cand.Clone()
		cand.Score = m.Score
		cand.MatchRange = m.MatchRange
		results = append(results, cand)
	}

	if s.TemplateMatch && s.Algo != media.IndexVideo && e.Template != nil {
		results, err = e.templateFilter(ctx, s, results)
		if err != nil {
			return nil, err
		}
	}

	classify(s.Needle, results)

	sort.SliceStable(results, func(i, j int) bool {
		iExact := results[i].MatchFlags.Has(media.MatchExact)
		jExact := results[j].MatchFlags.Has(media.MatchExact)
		if iExact != jExact {
			return iExact
		}
		return results[i].Score < results[j].Score
	})

	results, err = e.filter(ctx, s.Needle, results)
	if err != nil {
		return nil, err
	}

	return results, nil
}

// filter applies the higher-level filters in order: drop the needle
// itself, drop same-parent candidates, drop user-dismissed negative
// matches, then deduplicate.
func (e *Engine) filter(ctx context.Context, needle *media.Media, results []*media.Media) ([]*media.Media, error) {
	needleParent := media.ParentPath(needle.Path)
	seen := make(map[uint32]bool, len(results))
	out := make([]*media.Media, 0, len(results))

	for _, cand := range results {
		if cand.ID == needle.ID {
			continue
		}
		if media.ParentPath(cand.Path) == needleParent {
			continue
		}
		if e.DB != nil {
			neg, err := e.DB.IsNegativeMatch(ctx, needle.ID, cand.ID)
			if err != nil {
				return nil, err
			}
			if neg {
				continue
			}
			weed, err := e.DB.IsWeed(ctx, cand.ContentDigest)
			if err != nil {
				return nil, err
			}
			if weed {
				cand.MatchFlags |= media.MatchIsWeed
			}
		}
		if seen[cand.ID] {
			continue
		}
		seen[cand.ID] = true
		out = append(out, cand)
	}
	return out, nil
}

// ExpandGroups turns an n-ary set of mutually-matching media (e.g. all
// results returned for one needle) into the pairwise edges a caller's UI
// or storage layer expects.
func ExpandGroups(needle *media.Media, group []*media.Media) [][2]uint32 {
	pairs := make([][2]uint32, 0, len(group))
	for _, m := range group {
		pairs = append(pairs, [2]uint32{needle.ID, m.ID})
	}
	return pairs
}

// MergeConnectedGroups merges pairwise match edges into connected
// components ("n-connected groups"). Each returned slice is the sorted set
// of media ids in one connected group.
func MergeConnectedGroups(pairs [][2]uint32) [][]uint32 {
	parent := make(map[uint32]uint32)
	var find func(uint32) uint32
	find = func(x uint32) uint32 {
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b uint32) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for _, p := range pairs {
		union(p[0], p[1])
	}

	groups := make(map[uint32][]uint32)
	for id := range parent {
		root := find(id)
		groups[root] = append(groups[root], id)
	}
	out := make([][]uint32, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i] < g[j] })
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func typeAllowed(t media.Type, allowed []media.Type) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

func (e *Engine) mirrorAndRefind(s Search, idx index.Index) ([]index.Match, error) {
	var out []index.Match
	for _, bit := range []MirrorBit{MirrorH, MirrorV} {
		if s.MirrorMask&bit == 0 {
			continue
		}
		mirroredImg := mirrorImage(s.NeedleImage, bit == MirrorH, bit == MirrorV)
		mirroredNeedle := s.Needle.Clone()
		mirroredNeedle.DCTHash = int64(fingerprint.DCTHash(mirroredImg))
		if s.Needle.HasColor() {
			mirroredNeedle.ColorDescriptor = fingerprint.ColorDescriptor(mirroredImg, int64(s.Needle.ID))
		}
		if s.Needle.HasORB() {
			kp, desc, rows := fingerprint.ExtractORB(mirroredImg, fingerprint.MaxKeypointsNeedle)
			mirroredNeedle.Keypoints = kp
			mirroredNeedle.Descriptors = desc
			mirroredNeedle.DescriptorRows = rows
		}
		hits, err := idx.Find(mirroredNeedle, s.Params)
		if err != nil {
			return nil, err
		}
		out = append(out, hits...)
	}
	return out, nil
}

func mirrorImage(img image.Image, horizontal, vertical bool) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	w, h := b.Dx(), b.Dy()
	flipped := image.NewRGBA(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x, y
			if horizontal {
				sx = w - 1 - x
			}
			if vertical {
				sy = h - 1 - y
			}
			flipped.Set(b.Min.X+x, b.Min.Y+y, out.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return flipped
}

func unionMatches(a, b []index.Match) []index.Match {
	seen := make(map[uint32]bool, len(a))
	out := make([]index.Match, 0, len(a)+len(b))
	for _, m := range a {
		if !seen[m.MediaID] {
			seen[m.MediaID] = true
			out = append(out, m)
		}
	}
	for _, m := range b {
		if !seen[m.MediaID] {
			seen[m.MediaID] = true
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) templateFilter(ctx context.Context, s Search, results []*media.Media) ([]*media.Media, error) {
	if e.LoadCandidateImage == nil {
		return results, nil
	}
	out := make([]*media.Media, 0, len(results))
	for _, cand := range results {
		candImg, err := e.LoadCandidateImage(ctx, cand)
		if err != nil || candImg == nil {
			continue
		}
		res := e.Template.Match(s.Needle, cand, s.NeedleImage, candImg, s.Params.CVThresh, s.Params.DCTThresh)
		if !res.Accepted {
			continue
		}
		cand.ROI = res.ROI
		cand.Transform = res.Transform
		cand.Score = float64(res.Score)
		out = append(out, cand)
	}
	return out, nil
}

// classify computes each candidate's MatchFlags relative to needle.
func classify(needle *media.Media, candidates []*media.Media) {
	for _, c := range candidates {
		var flags media.MatchFlags
		if c.ContentDigest != "" && c.ContentDigest == needle.ContentDigest {
			flags |= media.MatchExact
		}
		if c.Width*c.Height > needle.Width*needle.Height {
			flags |= media.MatchBiggerDimensions
		}
		if c.OriginalSize > needle.OriginalSize {
			flags |= media.MatchBiggerFile
		}
		if c.CompressionRatio < needle.CompressionRatio {
			flags |= media.MatchLessCompressed
		}
		c.MatchFlags = flags
	}
}
