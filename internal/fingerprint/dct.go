// Package fingerprint implements the perceptual-hash and feature-extraction
// primitives used throughout this repo: DCT-64 whole-image hashing, color
// descriptors, ORB keypoints, keypoint hashes, and per-frame video hash
// sequences.
package fingerprint

import (
	"image"
	"math/bits"

	"gonum.org/v1/gonum/dsp/fourier"
)

// dctSize is the thumbnail side the image is resized to before taking its DCT.
const dctSize = 32

// zigZag81 is the fixed zig-zag permutation of the top-left 9x9 DCT block,
// linearized in standard JPEG zig-zag order.
var zigZag81 = buildZigZag(9)

func buildZigZag(n int) []int {
	order := make([]int, 0, n*n)
	for s := 0; s < 2*n-1; s++ {
		var coords [][2]int
		for y := 0; y < n; y++ {
			x := s - y
			if x >= 0 && x < n {
				coords = append(coords, [2]int{y, x})
			}
		}
		if s%2 == 0 {
			for i := len(coords) - 1; i >= 0; i-- {
				order = append(order, coords[i][0]*n+coords[i][1])
			}
		} else {
			for _, c := range coords {
				order = append(order, c[0]*n+c[1])
			}
		}
	}
	return order
}

// DCTHash computes the 64-bit whole-image perceptual hash of img: grayscale
// -> box blur (kernel by area) -> resize to 32x32 -> top-left 9x9 DCT ->
// zig-zag, drop first 6 + last 11 of the 64 remaining -> threshold at the
// mean -> bit i = 1 iff element i > threshold, with bit 0 forced to 0.
func DCTHash(img image.Image) uint64 {
	gray := toGrayscale(img)
	kernel := blurKernelForArea(gray.Bounds().Dx() * gray.Bounds().Dy())
	if kernel > 0 {
		gray = boxBlur(gray, kernel)
	}
	small := resizeAreaAverage(gray, dctSize, dctSize)
	coeffs := dct2D(small, dctSize)

	// Extract top-left 9x9.
	block := make([]float64, 81)
	for y := 0; y < 9; y++ {
		for x := 0; x < 9; x++ {
			block[y*9+x] = coeffs[y*dctSize+x]
		}
	}

	linear := make([]float64, 81)
	for i, idx := range zigZag81 {
		linear[i] = block[idx]
	}

	// Discard the 6 lowest-frequency and the last 11 entries, keeping 64.
	vec := linear[6 : 81-11]

	var sum float64
	for _, v := range vec {
		sum += v
	}
	mean := sum / float64(len(vec))

	var hash uint64
	for i, v := range vec {
		if v > mean {
			hash |= 1 << uint(i)
		}
	}
	// Bit 0 is DC-derived and always 0.
	hash &^= 1
	return hash
}

// blurKernelForArea selects the box-blur kernel size by image area:
// <=32²->0, <=64²->3, <=128²->5, else 7.
func blurKernelForArea(area int) int {
	switch {
	case area <= 32*32:
		return 0
	case area <= 64*64:
		return 3
	case area <= 128*128:
		return 5
	default:
		return 7
	}
}

// HammingDistance returns popcount(a XOR b).
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// grayImage is a simple float64 grayscale raster.
type grayImage struct {
	W, H int
	Pix  []float64
}

func (g *grayImage) Bounds() image.Rectangle { return image.Rect(0, 0, g.W, g.H) }

func (g *grayImage) at(x, y int) float64 {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= g.W {
		x = g.W - 1
	}
	if y >= g.H {
		y = g.H - 1
	}
	return g.Pix[y*g.W+x]
}

// toGrayscale converts img to luminance-of-YUV grayscale.
func toGrayscale(img image.Image) *grayImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &grayImage{W: w, H: h, Pix: make([]float64, w*h)}
	idx := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(bl>>8)
			out.Pix[idx] = 0.299*rf + 0.587*gf + 0.114*bf
			idx++
		}
	}
	return out
}

// boxBlur applies a kernel x kernel box blur.
func boxBlur(g *grayImage, kernel int) *grayImage {
	r := kernel / 2
	out := &grayImage{W: g.W, H: g.H, Pix: make([]float64, g.W*g.H)}
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			var sum float64
			var n int
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					sum += g.at(x+dx, y+dy)
					n++
				}
			}
			out.Pix[y*g.W+x] = sum / float64(n)
		}
	}
	return out
}

// resizeAreaAverage resizes g to w x h using area-averaging.
func resizeAreaAverage(g *grayImage, w, h int) *grayImage {
	out := &grayImage{W: w, H: h, Pix: make([]float64, w*h)}
	sx := float64(g.W) / float64(w)
	sy := float64(g.H) / float64(h)
	for y := 0; y < h; y++ {
		y0 := int(float64(y) * sy)
		y1 := int(float64(y+1) * sy)
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for x := 0; x < w; x++ {
			x0 := int(float64(x) * sx)
			x1 := int(float64(x+1) * sx)
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var sum float64
			var n int
			for yy := y0; yy < y1; yy++ {
				for xx := x0; xx < x1; xx++ {
					sum += g.at(xx, yy)
					n++
				}
			}
			out.Pix[y*w+x] = sum / float64(n)
		}
	}
	return out
}

// dct2D computes a separable 2D DCT-II of an n x n grayscale raster and
// returns the coefficients row-major.
func dct2D(g *grayImage, n int) []float64 {
	tmp := make([]float64, n*n)
	out := make([]float64, n*n)

	// Rows.
	for y := 0; y < n; y++ {
		row := make([]float64, n)
		for x := 0; x < n; x++ {
			row[x] = g.at(x, y)
		}
		dctRow := dct1D(row)
		copy(tmp[y*n:(y+1)*n], dctRow)
	}
	// Columns.
	col := make([]float64, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = tmp[y*n+x]
		}
		dctCol := dct1D(col)
		for y := 0; y < n; y++ {
			out[y*n+x] = dctCol[y]
		}
	}
	return out
}

// dctTransformer is reused across calls: every row/column dct1D ever sees
// is exactly dctSize long, so one FFT-backed plan serves the whole image.
var dctTransformer = fourier.NewDCT(dctSize)

// dct1D computes the DCT-II of v via gonum's FFT-backed transformer rather
// than a direct O(n^2) summation.
func dct1D(v []float64) []float64 {
	return dctTransformer.Transform(make([]float64, len(v)), v)
}
