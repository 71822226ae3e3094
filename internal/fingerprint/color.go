package fingerprint

import (
	"image"
	"math"
	"math/rand"
	"sort"

	"github.com/dupfind/dupfind/internal/media"
)

const (
	colorMaxSide    = 256
	colorMaxCount   = 32
	colorKMeansIter = 100
	colorKMeansEps  = 10.0
	colorMinL       = 4.0 // near-black cutoff
)

type luvPixel struct {
	L, U, V float64
	weight  float64 // mask intensity * center-emphasis weight, assigned during clustering
}

// ColorDescriptor computes the up-to-32-centroid Luv color descriptor of
// img. seed makes the kmeans++ init deterministic so the same image and
// seed always produce the same descriptor.
func ColorDescriptor(img image.Image, seed int64) *media.ColorDescriptor {
	resized := resizeLongestSide(img, colorMaxSide)
	pixels := maskAndConvertToLuv(resized)
	pixels = filterNearBlack(pixels)
	if len(pixels) == 0 {
		return &media.ColorDescriptor{}
	}

	k := colorMaxCount
	if k > len(pixels) {
		k = len(pixels)
	}
	centroids := kmeansPlusPlus(pixels, k, seed)
	centroids = runKMeans(pixels, centroids, colorKMeansIter, colorKMeansEps)

	sort.Slice(centroids, func(i, j int) bool { return centroids[i].weight > centroids[j].weight })

	maxW := 0.0
	for _, c := range centroids {
		if c.weight > maxW {
			maxW = c.weight
		}
	}
	if maxW == 0 {
		maxW = 1
	}

	out := &media.ColorDescriptor{}
	for _, c := range centroids {
		if len(out.Colors) >= colorMaxCount {
			break
		}
		out.Colors = append(out.Colors, media.ColorEntry{
			L:      quantize16(c.L, 0, 100),
			U:      quantize16(c.U, -134, 220),
			V:      quantize16(c.V, -140, 122),
			Weight: uint16(c.weight / maxW * 65535),
		})
	}
	return out
}

func quantize16(v, lo, hi float64) uint16 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return uint16((v - lo) / (hi - lo) * 65535)
}

// resizeLongestSide nearest-neighbor resizes so the longest side is at
// most maxSide, preserving color values exactly rather than blending them.
func resizeLongestSide(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(longest)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	for y := 0; y < nh; y++ {
		sy := b.Min.Y + y*h/nh
		for x := 0; x < nw; x++ {
			sx := b.Min.X + x*w/nw
			out.Set(x, y, img.At(sx, sy))
		}
	}
	return out
}

// maskAndConvertToLuv drops alpha, applies an ellipsoidal mask covering
// 90%x90% of the image to de-weight edges, and converts to CIE Luv. The
// mask intensity is folded into each pixel's initial weight; center-emphasis
// weighting is applied later during clustering.
func maskAndConvertToLuv(img image.Image) []luvPixel {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := 0.9*float64(w)/2, 0.9*float64(h)/2

	out := make([]luvPixel, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			dy := (float64(y) + 0.5 - cy) / ry
			dist2 := dx*dx + dy*dy
			var maskIntensity float64
			if dist2 <= 1 {
				maskIntensity = 1
			} else {
				// Soft falloff outside the ellipse so edges are de-weighted
				// rather than hard-clipped.
				maskIntensity = math.Max(0, 1-(dist2-1))
			}
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rf := float64(r>>8) / 255 * maskIntensity
			gf := float64(g>>8) / 255 * maskIntensity
			bf := float64(bl>>8) / 255 * maskIntensity
			L, u, v := rgbToLuv(rf, gf, bf)
			out = append(out, luvPixel{L: L, U: u, V: v, weight: maskIntensity})
		}
	}
	return out
}

func filterNearBlack(pixels []luvPixel) []luvPixel {
	out := pixels[:0:0]
	for _, p := range pixels {
		if p.L > colorMinL {
			out = append(out, p)
		}
	}
	return out
}

// rgbToLuv converts linear-ish sRGB [0,1] to CIE Luv via XYZ (D65 white).
func rgbToLuv(r, g, b float64) (L, u, v float64) {
	lin := func(c float64) float64 {
		if c <= 0.04045 {
			return c / 12.92
		}
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	r, g, b = lin(r), lin(g), lin(b)

	X := 0.4124564*r + 0.3575761*g + 0.1804375*b
	Y := 0.2126729*r + 0.7151522*g + 0.0721750*b
	Z := 0.0193339*r + 0.1191920*g + 0.9503041*b

	const Xn, Yn, Zn = 0.95047, 1.0, 1.08883
	yr := Y / Yn

	if yr > 0.008856 {
		L = 116*math.Cbrt(yr) - 16
	} else {
		L = 903.3 * yr
	}

	denom := X + 15*Y + 3*Z
	var up, vp float64
	if denom > 0 {
		up = 4 * X / denom
		vp = 9 * Y / denom
	}
	denomN := Xn + 15*Yn + 3*Zn
	upn := 4 * Xn / denomN
	vpn := 9 * Yn / denomN

	u = 13 * L * (up - upn)
	v = 13 * L * (vp - vpn)
	return
}

// kmeansPlusPlus selects k initial centroids using the kmeans++ heuristic,
// deterministically seeded by the caller.
func kmeansPlusPlus(pixels []luvPixel, k int, seed int64) []luvPixel {
	rng := rand.New(rand.NewSource(seed))
	centroids := make([]luvPixel, 0, k)
	first := pixels[rng.Intn(len(pixels))]
	centroids = append(centroids, first)

	dist2 := make([]float64, len(pixels))
	for len(centroids) < k {
		var total float64
		for i, p := range pixels {
			d := minDist2ToCentroids(p, centroids)
			dist2[i] = d
			total += d
		}
		if total == 0 {
			// Remaining pixels are identical to an existing centroid;
			// fill the rest arbitrarily to reach k.
			for len(centroids) < k {
				centroids = append(centroids, pixels[rng.Intn(len(pixels))])
			}
			break
		}
		target := rng.Float64() * total
		var cum float64
		for i, d := range dist2 {
			cum += d
			if cum >= target {
				centroids = append(centroids, pixels[i])
				break
			}
		}
	}
	return centroids
}

func minDist2ToCentroids(p luvPixel, centroids []luvPixel) float64 {
	best := math.MaxFloat64
	for _, c := range centroids {
		d := luvDist2(p, c)
		if d < best {
			best = d
		}
	}
	return best
}

func luvDist2(a, b luvPixel) float64 {
	dl, du, dv := a.L-b.L, a.U-b.U, a.V-b.V
	return dl*dl + du*du + dv*dv
}

// runKMeans runs up to maxIter Lloyd iterations with an epsilon
// convergence check, and assigns each centroid a final weight using
// center-emphasis radial weighting.
func runKMeans(pixels []luvPixel, centroids []luvPixel, maxIter int, eps float64) []luvPixel {
	assign := make([]int, len(pixels))
	for iter := 0; iter < maxIter; iter++ {
		for i, p := range pixels {
			best, bestD := 0, math.MaxFloat64
			for ci, c := range centroids {
				d := luvDist2(p, c)
				if d < bestD {
					bestD = d
					best = ci
				}
			}
			assign[i] = best
		}

		newCentroids := make([]luvPixel, len(centroids))
		counts := make([]float64, len(centroids))
		for i, p := range pixels {
			ci := assign[i]
			newCentroids[ci].L += p.L
			newCentroids[ci].U += p.U
			newCentroids[ci].V += p.V
			counts[ci]++
		}
		var shift float64
		for ci := range centroids {
			if counts[ci] == 0 {
				newCentroids[ci] = centroids[ci]
				continue
			}
			newCentroids[ci].L /= counts[ci]
			newCentroids[ci].U /= counts[ci]
			newCentroids[ci].V /= counts[ci]
			shift += math.Sqrt(luvDist2(centroids[ci], newCentroids[ci]))
		}
		centroids = newCentroids
		if shift < eps {
			break
		}
	}

	// Final pass: weight each pixel's contribution to its centroid by
	// center emphasis (max_radial_dist - radial_dist)/max_radial_dist,
	// approximated here via the mask intensity already stored in p.weight
	// (1 at center, falling toward 0 at the mask edge).
	weights := make([]float64, len(centroids))
	for i, p := range pixels {
		weights[assign[i]] += p.weight
	}
	for ci := range centroids {
		centroids[ci].weight = weights[ci]
	}
	return centroids
}

// ColorDistance compares two color descriptors: for descriptors whose color
// counts differ by at most 2, pick the larger as A, sum the minimum
// Euclidean Luv distance from each of A's colors to the nearest in B, plus
// 1. Otherwise returns +Inf.
func ColorDistance(a, b *media.ColorDescriptor) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	na, nb := len(a.Colors), len(b.Colors)
	diff := na - nb
	if diff < 0 {
		diff = -diff
	}
	if diff > 2 {
		return math.Inf(1)
	}
	big, small := a, b
	if nb > na {
		big, small = b, a
	}
	if len(small.Colors) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for _, c := range big.Colors {
		best := math.MaxFloat64
		for _, d := range small.Colors {
			dist := euclid16(c, d)
			if dist < best {
				best = dist
			}
		}
		sum += best
	}
	return sum + 1
}

func euclid16(a, b media.ColorEntry) float64 {
	dl := float64(a.L) - float64(b.L)
	du := float64(a.U) - float64(b.U)
	dv := float64(a.V) - float64(b.V)
	return math.Sqrt(dl*dl + du*du + dv*dv)
}
