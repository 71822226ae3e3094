package fingerprint

import (
	"image"

	"github.com/dupfind/dupfind/internal/media"
)

// VideoFrameSource yields decoded frames in order; a concrete video decoder
// implements this.
type VideoFrameSource interface {
	// NextFrame returns the next decoded frame, or (nil, false) at end of
	// stream.
	NextFrame() (image.Image, bool)
}

const (
	maxVideoFrames       = 65535 // 16-bit frame numbers
	defaultHashThreshold = 8     // default Hamming window threshold
	autoCropTolerance    = 20    // gray-level tolerance
	autoCropMinCoverage  = 0.66  // 66% of row/column length
	autoCropMaxMarginDiff = 0.05 // 5%, exposed as a tunable parameter
	autoCropMinAreaFrac  = 0.65
	defaultWindowSize    = 16
)

// BuildVideoIndex iterates decoded frames from src, auto-crops each to
// remove uniform borders, DCT-64-hashes it, and keeps a frame iff it is not
// within threshold Hamming distance of any hash in a sliding window of
// recently kept hashes. The first and last decoded frame are always kept.
// Indexing stops after 65535 frames since frame numbers are stored as
// uint16.
func BuildVideoIndex(src VideoFrameSource, threshold int) *media.VideoIndex {
	if threshold <= 0 {
		threshold = defaultHashThreshold
	}
	idx := &media.VideoIndex{}
	var window []uint64
	frameNum := 0
	var lastHash uint64
	var haveLast bool

	for {
		frame, ok := src.NextFrame()
		if !ok {
			break
		}
		if frameNum >= maxVideoFrames {
			break
		}
		cropped := AutoCrop(frame, autoCropTolerance, autoCropMaxMarginDiff)
		h := DCTHash(cropped)

		keep := frameNum == 0
		if !keep {
			keep = true
			for _, w := range window {
				if HammingDistance(w, h) <= threshold {
					keep = false
					break
				}
			}
		}
		if keep {
			idx.Frames = append(idx.Frames, uint16(frameNum))
			idx.Hashes = append(idx.Hashes, h)
			window = append(window, h)
			if len(window) > defaultWindowSize {
				window = window[1:]
			}
		}
		lastHash = h
		haveLast = true
		frameNum++
	}

	// Always include the last decoded frame.
	if haveLast && (len(idx.Frames) == 0 || int(idx.Frames[len(idx.Frames)-1]) != frameNum-1) {
		idx.Frames = append(idx.Frames, uint16(frameNum-1))
		idx.Hashes = append(idx.Hashes, lastHash)
	}
	return idx
}

// AutoCrop removes uniform borders from img: grayscale; measure border
// color from the top-left pixel; scan from
// center outward for the first row/column matching the border color
// within tolerance for at least minCoverage of its length; enforce a
// balanced crop (opposite margins differ by at most maxMarginDiff of the
// dimension); reject (return img unchanged) if the resulting crop area
// would be less than 65% of the original.
func AutoCrop(img image.Image, tolerance int, maxMarginDiff float64) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}
	gray := toGrayscale(img)
	borderColor := gray.at(0, 0)

	top := scanMargin(gray, borderColor, tolerance, autoCropMinCoverage, true, false)
	bottom := scanMargin(gray, borderColor, tolerance, autoCropMinCoverage, true, true)
	left := scanMargin(gray, borderColor, tolerance, autoCropMinCoverage, false, false)
	right := scanMargin(gray, borderColor, tolerance, autoCropMinCoverage, false, true)

	if float64(absInt(top-bottom)) > maxMarginDiff*float64(h) {
		top, bottom = minInt(top, bottom), minInt(top, bottom)
	}
	if float64(absInt(left-right)) > maxMarginDiff*float64(w) {
		left, right = minInt(left, right), minInt(left, right)
	}

	cropW := w - left - right
	cropH := h - top - bottom
	if cropW <= 0 || cropH <= 0 {
		return img
	}
	if float64(cropW*cropH) < autoCropMinAreaFrac*float64(w*h) {
		return img
	}
	if top == 0 && bottom == 0 && left == 0 && right == 0 {
		return img
	}

	rgba := toRGBAImage(img)
	return rgba.SubImage(image.Rect(b.Min.X+left, b.Min.Y+top, b.Max.X-right, b.Max.Y-bottom))
}

// scanMargin scans rows (rowsMode=true) or columns of one half, from the
// center toward the outer edge, and returns the margin up to and including
// the first row/column with at least minCoverage fraction of pixels
// matching borderColor (0 if none does).
func scanMargin(g *grayImage, borderColor float64, tolerance int, minCoverage float64, rowsMode, fromEnd bool) int {
	length := g.H
	lineLen := g.W
	if !rowsMode {
		length = g.W
		lineLen = g.H
	}
	matches := func(i int) int {
		count := 0
		for j := 0; j < lineLen; j++ {
			var v float64
			if rowsMode {
				v = g.at(j, i)
			} else {
				v = g.at(i, j)
			}
			if absFloat(v-borderColor) <= float64(tolerance) {
				count++
			}
		}
		return count
	}
	for m := length/2 - 1; m >= 0; m-- {
		i := m
		if fromEnd {
			i = length - 1 - m
		}
		if float64(matches(i))/float64(lineLen) >= minCoverage {
			return m + 1
		}
	}
	return 0
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
