// Package template implements the affine-transform template matcher: given
// a needle image and candidates already found by an index, verify each
// pairing by fitting a similarity transform between ORB keypoint matches
// and re-scoring the warped candidate's DCT-64 hash against the needle's.
package template

import (
	"image"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/dupfind/dupfind/internal/fingerprint"
	"github.com/dupfind/dupfind/internal/media"
)

const (
	minMatchingPairs  = 3
	needleFeatures    = fingerprint.MaxKeypointsNeedle
	haystackFeatures  = fingerprint.MaxKeypointsHaystack
	candidateAreaCap  = 4.0 // candidate downscaled if area > 4x needle area
	candidateMaxScale = 2.0 // downscale target: <= 2x needle longest side
)

// cacheKey is the unordered pair of content digests a result is cached
// under: both orderings of a (needle, candidate) pair hit the same entry.
type cacheKey struct{ a, b string }

func newCacheKey(digestA, digestB string) cacheKey {
	if digestA > digestB {
		digestA, digestB = digestB, digestA
	}
	return cacheKey{a: digestA, b: digestB}
}

// Result is a cached or freshly computed template-match outcome.
type Result struct {
	Accepted  bool
	Score     int // Hamming distance of the warped candidate vs needle DCT hash
	ROI       *media.ROI
	Transform *media.Transform
}

// Matcher holds the pairwise result cache behind a read-write lock: readers
// shared, inserters exclusive.
type Matcher struct {
	mu    sync.RWMutex
	cache map[cacheKey]Result
}

func New() *Matcher {
	return &Matcher{cache: make(map[cacheKey]Result)}
}

// Match verifies needle against candidate, using the cache when the
// (needleDigest, candidateDigest) pair (in either order) has already been
// scored.
func (m *Matcher) Match(needle, candidate *media.Media, needleImg, candidateImg image.Image, cvThresh, dctThresh int) Result {
	key := newCacheKey(needle.ContentDigest, candidate.ContentDigest)

	m.mu.RLock()
	if cached, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return cached
	}
	m.mu.RUnlock()

	result := m.compute(needle, candidateImg, needleImg, cvThresh, dctThresh)

	m.mu.Lock()
	m.cache[key] = result
	m.mu.Unlock()
	return result
}

func (m *Matcher) compute(needle *media.Media, candidateImg, needleImg image.Image, cvThresh, dctThresh int) Result {
	needleKP, needleDesc, needleRows := fingerprint.ExtractORB(needleImg, needleFeatures)
	if needleRows == 0 {
		return Result{Accepted: false}
	}

	cImg := downscaleIfOversized(candidateImg, needleImg)
	candKP, candDesc, candRows := fingerprint.ExtractORB(cImg, haystackFeatures)
	if candRows == 0 {
		return Result{Accepted: false}
	}

	pairs := bruteForceMatch(needleDesc, needleRows, candDesc, candRows, cvThresh)
	if len(pairs) < minMatchingPairs {
		return Result{Accepted: false}
	}

	transform, ok := fitSimilarity(needleKP, candKP, pairs)
	if !ok {
		return Result{Accepted: false}
	}

	warped := warpImage(cImg, transform, needleImg.Bounds())
	warpedHash := fingerprint.DCTHash(warped)
	score := fingerprint.HammingDistance(warpedHash, uint64(needle.DCTHash))
	if score >= dctThresh {
		return Result{Accepted: false}
	}

	// Rescale the needle-to-cImg transform to the original candidate's size.
	full := transform
	if cb, db := candidateImg.Bounds(), cImg.Bounds(); db.Dx() > 0 && db.Dy() > 0 {
		sx, sy := float64(cb.Dx())/float64(db.Dx()), float64(cb.Dy())/float64(db.Dy())
		for j := 0; j < 3; j++ {
			full[0][j] *= sx
			full[1][j] *= sy
		}
	}
	return Result{
		Accepted:  true,
		Score:     score,
		ROI:       warpedROI(full, needleImg.Bounds()),
		Transform: &media.Transform{M: full},
	}
}

// downscaleIfOversized leaves candidate as is unless its area exceeds
// candidateAreaCap times needle's; then, if its longest side is over
// candidateMaxScale x needle's longest side, it resizes it proportionally
// (nearest neighbour, in one step) to exactly that longest side.
func downscaleIfOversized(candidate, needle image.Image) image.Image {
	cb, nb := candidate.Bounds(), needle.Bounds()
	cArea := float64(cb.Dx() * cb.Dy())
	nArea := float64(nb.Dx() * nb.Dy())
	if nArea == 0 || cArea <= nArea*candidateAreaCap {
		return candidate
	}
	needleLongest := math.Max(float64(nb.Dx()), float64(nb.Dy()))
	candLongest := math.Max(float64(cb.Dx()), float64(cb.Dy()))
	targetLongest := needleLongest * candidateMaxScale
	if candLongest <= targetLongest {
		return candidate
	}
	scale := targetLongest / candLongest
	nw, nh := int(float64(cb.Dx())*scale), int(float64(cb.Dy())*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	for y := 0; y < nh; y++ {
		sy := cb.Min.Y + y*cb.Dy()/nh
		for x := 0; x < nw; x++ {
			sx := cb.Min.X + x*cb.Dx()/nw
			out.Set(x, y, candidate.At(sx, sy))
		}
	}
	return out
}

// matchPair is a one-to-one correspondence between a needle and a candidate
// keypoint.
type matchPair struct {
	needleIdx, candidateIdx int
}

// bruteForceMatch performs one-to-one nearest-descriptor matching within
// maxDistance. Greedy: each needle descriptor claims its closest unclaimed
// candidate descriptor.
func bruteForceMatch(needleDesc []byte, needleRows int, candDesc []byte, candRows int, maxDistance int) []matchPair {
	claimed := make([]bool, candRows)
	var pairs []matchPair
	for i := 0; i < needleRows; i++ {
		nd := needleDesc[i*fingerprint.DescriptorBytes : (i+1)*fingerprint.DescriptorBytes]
		best, bestDist := -1, maxDistance+1
		for j := 0; j < candRows; j++ {
			if claimed[j] {
				continue
			}
			cd := candDesc[j*fingerprint.DescriptorBytes : (j+1)*fingerprint.DescriptorBytes]
			d := fingerprint.DescriptorHamming(nd, cd)
			if d < bestDist {
				bestDist, best = d, j
			}
		}
		if best >= 0 && bestDist <= maxDistance {
			claimed[best] = true
			pairs = append(pairs, matchPair{needleIdx: i, candidateIdx: best})
		}
	}
	return pairs
}

// fitSimilarity fits a non-reflective similarity transform (uniform scale,
// rotation, translation) from needle keypoints to candidate keypoints using
// least-squares over the matched pairs:
//
//	cx = a*nx - b*ny + tx
//	cy = b*nx + a*ny + ty
//
// Each pair contributes two rows to an overdetermined 2n x 4 system in
// [a b tx ty], solved with gonum's QR-based least squares.
func fitSimilarity(needleKP, candKP []media.Keypoint, pairs []matchPair) ([2][3]float64, bool) {
	n := len(pairs)
	if n < minMatchingPairs {
		return [2][3]float64{}, false
	}

	A := mat.NewDense(2*n, 4, nil)
	rhs := mat.NewDense(2*n, 1, nil)
	for i, p := range pairs {
		nx, ny := float64(needleKP[p.needleIdx].X), float64(needleKP[p.needleIdx].Y)
		cx, cy := float64(candKP[p.candidateIdx].X), float64(candKP[p.candidateIdx].Y)
		A.SetRow(2*i, []float64{nx, -ny, 1, 0})
		A.SetRow(2*i+1, []float64{ny, nx, 0, 1})
		rhs.Set(2*i, 0, cx)
		rhs.Set(2*i+1, 0, cy)
	}

	var x mat.Dense
	if err := x.Solve(A, rhs); err != nil {
		return [2][3]float64{}, false
	}
	a, b, tx, ty := x.At(0, 0), x.At(1, 0), x.At(2, 0), x.At(3, 0)

	return [2][3]float64{
		{a, -b, tx},
		{b, a, ty},
	}, true
}

// warpImage applies transform to candidate and crops to bounds, producing
// the candidate warped back into the needle's frame so it can be re-hashed
// and compared directly against the needle.
func warpImage(candidate image.Image, transform [2][3]float64, bounds image.Rectangle) image.Image {
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	det := transform[0][0]*transform[1][1] - transform[0][1]*transform[1][0]
	if math.Abs(det) < 1e-12 {
		return out
	}

	cb := candidate.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Map needle-frame (x,y) through the transform to find the
			// corresponding candidate pixel.
			sx := transform[0][0]*float64(x) + transform[0][1]*float64(y) + transform[0][2]
			sy := transform[1][0]*float64(x) + transform[1][1]*float64(y) + transform[1][2]
			px, py := cb.Min.X+int(sx), cb.Min.Y+int(sy)
			if px < cb.Min.X || px >= cb.Max.X || py < cb.Min.Y || py >= cb.Max.Y {
				continue
			}
			out.Set(x, y, candidate.At(px, py))
		}
	}
	return out
}

// warpedROI computes the four corners of the needle rectangle warped into
// the original candidate's coordinate frame.
func warpedROI(transform [2][3]float64, bounds image.Rectangle) *media.ROI {
	corners := [4][2]float64{
		{float64(bounds.Min.X), float64(bounds.Min.Y)},
		{float64(bounds.Max.X), float64(bounds.Min.Y)},
		{float64(bounds.Max.X), float64(bounds.Max.Y)},
		{float64(bounds.Min.X), float64(bounds.Max.Y)},
	}
	var roi media.ROI
	for i, c := range corners {
		roi.Corners[i][0] = transform[0][0]*c[0] + transform[0][1]*c[1] + transform[0][2]
		roi.Corners[i][1] = transform[1][0]*c[0] + transform[1][1]*c[1] + transform[1][2]
	}
	return &roi
}
