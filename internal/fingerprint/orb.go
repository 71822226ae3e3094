package fingerprint

import (
	"image"
	"math"
	"sort"

	"github.com/dupfind/dupfind/internal/media"
)

// ORB tunables.
const (
	ORBScaleFactor  = 1.2
	ORBLevels       = 12
	ORBEdgeThresh   = 31
	ORBPatchSize    = 31
	DescriptorBytes = 32
)

// Needle/indexing/haystack keypoint budgets.
const (
	MaxKeypointsIndexing = 400
	MaxKeypointsNeedle    = 100
	MaxKeypointsHaystack  = 1000
)

// orbPattern is a fixed, deterministic 256-pair sampling pattern used for
// the binary descriptor (BRIEF-style), generated once at init so the same
// pattern is used on every run and descriptors stay comparable across
// processes. Synthesized from a fixed LCG rather than copied from an
// existing hand-tuned table (see DESIGN.md for why this is hand-rolled
// instead of using an OpenCV binding).
var orbPattern = generatePattern(256, ORBPatchSize)

func generatePattern(n, patch int) [][4]int {
	half := patch / 2
	state := uint32(0x2545F491)
	next := func() int {
		state = state*1664525 + 1013904223
		return int(state>>16) % (2*half + 1)
	}
	pattern := make([][4]int, n)
	for i := 0; i < n; i++ {
		pattern[i] = [4]int{next() - half, next() - half, next() - half, next() - half}
	}
	return pattern
}

// ExtractORB detects up to maxKeypoints ORB keypoints in img (scale factor
// 1.2, 12 levels, edge threshold 31, Harris score) and computes their
// 32-byte binary descriptors.
func ExtractORB(img image.Image, maxKeypoints int) ([]media.Keypoint, []byte, int) {
	gray := toGrayscale(img)

	var allKP []media.Keypoint
	var allResponse []float64
	scale := 1.0
	for level := 0; level < ORBLevels; level++ {
		levelW := int(float64(gray.W) / scale)
		levelH := int(float64(gray.H) / scale)
		if levelW < ORBPatchSize || levelH < ORBPatchSize {
			break
		}
		levelImg := resizeAreaAverage(gray, levelW, levelH)
		kps, resp := harrisKeypoints(levelImg, ORBEdgeThresh)
		for i := range kps {
			kps[i].X *= float32(scale)
			kps[i].Y *= float32(scale)
			kps[i].Size = float32(ORBPatchSize) * float32(scale)
		}
		allKP = append(allKP, kps...)
		allResponse = append(allResponse, resp...)
		scale *= ORBScaleFactor
	}

	order := make([]int, len(allKP))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return allResponse[order[i]] > allResponse[order[j]] })
	if len(order) > maxKeypoints {
		order = order[:maxKeypoints]
	}

	kps := make([]media.Keypoint, len(order))
	descriptors := make([]byte, len(order)*DescriptorBytes)
	for i, idx := range order {
		kp := allKP[idx]
		kp.Angle = intensityCentroidAngle(gray, int(kp.X), int(kp.Y), int(kp.Size))
		kps[i] = kp
		copy(descriptors[i*DescriptorBytes:(i+1)*DescriptorBytes], briefDescriptor(gray, kp))
	}
	return kps, descriptors, len(order)
}

// harrisKeypoints finds local maxima of the Harris corner response,
// excluding a margin of `edge` pixels from the image border.
func harrisKeypoints(g *grayImage, edge int) ([]media.Keypoint, []float64) {
	resp := harrisResponse(g)
	var kps []media.Keypoint
	var scores []float64
	for y := edge; y < g.H-edge; y++ {
		for x := edge; x < g.W-edge; x++ {
			v := resp[y*g.W+x]
			if v <= 0 {
				continue
			}
			if isLocalMax(resp, g.W, g.H, x, y) {
				kps = append(kps, media.Keypoint{X: float32(x), Y: float32(y)})
				scores = append(scores, v)
			}
		}
	}
	return kps, scores
}

func isLocalMax(resp []float64, w, h, x, y int) bool {
	v := resp[y*w+x]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if resp[ny*w+nx] > v {
				return false
			}
		}
	}
	return true
}

// harrisResponse computes the Harris corner response det(M) - k*trace(M)^2
// over 3x3 gradient windows.
func harrisResponse(g *grayImage) []float64 {
	const k = 0.04
	out := make([]float64, g.W*g.H)
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			var ixx, iyy, ixy float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					gx := g.at(x+dx+1, y+dy) - g.at(x+dx-1, y+dy)
					gy := g.at(x+dx, y+dy+1) - g.at(x+dx, y+dy-1)
					ixx += gx * gx
					iyy += gy * gy
					ixy += gx * gy
				}
			}
			det := ixx*iyy - ixy*ixy
			trace := ixx + iyy
			out[y*g.W+x] = det - k*trace*trace
		}
	}
	return out
}

// intensityCentroidAngle estimates keypoint orientation from the intensity
// centroid of a patch around (cx,cy), the classic ORB "moments" method.
func intensityCentroidAngle(g *grayImage, cx, cy, size int) float32 {
	r := size / 2
	var m10, m01 float64
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			v := g.at(cx+dx, cy+dy)
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return float32(math.Atan2(m01, m10))
}

// briefDescriptor computes a 32-byte binary descriptor by comparing
// intensities at orbPattern's sample pairs, rotated by the keypoint's
// angle so the descriptor is approximately rotation-invariant.
func briefDescriptor(g *grayImage, kp media.Keypoint) []byte {
	cosA, sinA := math.Cos(float64(kp.Angle)), math.Sin(float64(kp.Angle))
	out := make([]byte, DescriptorBytes)
	for i, p := range orbPattern {
		x1 := rotX(p[0], p[1], cosA, sinA)
		y1 := rotY(p[0], p[1], cosA, sinA)
		x2 := rotX(p[2], p[3], cosA, sinA)
		y2 := rotY(p[2], p[3], cosA, sinA)
		v1 := g.at(int(kp.X)+x1, int(kp.Y)+y1)
		v2 := g.at(int(kp.X)+x2, int(kp.Y)+y2)
		if v1 < v2 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func rotX(x, y int, cosA, sinA float64) int {
	return int(math.Round(float64(x)*cosA - float64(y)*sinA))
}

func rotY(x, y int, cosA, sinA float64) int {
	return int(math.Round(float64(x)*sinA + float64(y)*cosA))
}

// DescriptorHamming returns the Hamming distance between two 32-byte ORB
// descriptors.
func DescriptorHamming(a, b []byte) int {
	dist := 0
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dist += popcount8(a[i] ^ b[i])
	}
	return dist
}

func popcount8(b byte) int {
	count := 0
	for b != 0 {
		count += int(b & 1)
		b >>= 1
	}
	return count
}

// KeypointHashes computes DCT-64 hashes of the square sub-image around each
// keypoint whose size is >= 31 and whose extent fits the image.
func KeypointHashes(img image.Image, keypoints []media.Keypoint) []uint64 {
	b := img.Bounds()
	rgba := toRGBAImage(img)
	out := make([]uint64, 0, len(keypoints))
	for _, kp := range keypoints {
		size := int(kp.Size)
		if size < 31 {
			continue
		}
		half := size / 2
		x0, y0 := int(kp.X)-half, int(kp.Y)-half
		x1, y1 := x0+size, y0+size
		if x0 < b.Min.X || y0 < b.Min.Y || x1 > b.Max.X || y1 > b.Max.Y {
			continue
		}
		sub := rgba.SubImage(image.Rect(x0, y0, x1, y1))
		out = append(out, DCTHash(sub))
	}
	return out
}

func toRGBAImage(img image.Image) *image.RGBA {
	if r, ok := img.(*image.RGBA); ok {
		return r
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}
