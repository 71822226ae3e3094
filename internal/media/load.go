package media

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dupfind/dupfind/internal/cancel"
)

// Orientation is an EXIF orientation tag value, 1-8.
type Orientation int

// LoadedImage is the result of LoadImage: a decoded, oriented, possibly
// scaled pixel buffer plus fileSize, name, and format annotations.
type LoadedImage struct {
	Image    image.Image
	FileSize int64
	Name     string
	Format   string
}

// LoadOptions parameterizes LoadImage.
type LoadOptions struct {
	// MaxSize constrains the longest side of the result; 0 means unconstrained.
	MaxSize int
	// Orientation is the EXIF orientation, as read by the caller. Rotations
	// (3, 6, 8) are applied; mirror orientations are left un-applied.
	Orientation Orientation
}

// LoadImage decompresses path, honors EXIF orientation (rotates 90/180/270;
// mirror orientations 2/4/5/7 are recognized but not applied), optionally
// scales to a constrained size, and annotates the result. It is cancelable:
// if ctx is done while reading, it returns (nil, ctx.Err()).
func LoadImage(ctx context.Context, path string, opts LoadOptions) (*LoadedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(cancel.Reader{Ctx: ctx, R: f})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	img = applyOrientation(img, opts.Orientation)

	if opts.MaxSize > 0 {
		img = scaleToFit(img, opts.MaxSize)
	}

	return &LoadedImage{
		Image:    img,
		FileSize: fi.Size(),
		Name:     Name(path),
		Format:   format,
	}, nil
}

// ApplyOrientation is applyOrientation exported for callers that decode
// image bytes themselves rather than going through LoadImage (e.g. the
// scanner's archive-member path, which has no plain filesystem path to
// hand LoadImage).
func ApplyOrientation(img image.Image, o Orientation) image.Image {
	return applyOrientation(img, o)
}

// applyOrientation rotates the image per EXIF orientation tags 3/6/8
// (180/90CW/270CW). Mirror orientations (2,4,5,7) are recognized but left
// un-applied.
func applyOrientation(img image.Image, o Orientation) image.Image {
	switch o {
	case 3:
		return rotate180(img)
	case 6:
		return rotate90CW(img)
	case 8:
		return rotate270CW(img)
	default:
		return img
	}
}

func rotate180(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sx := b.Max.X - 1 - (x - b.Min.X)
			sy := b.Max.Y - 1 - (y - b.Min.Y)
			out.Set(x, y, img.At(sx, sy))
		}
	}
	return out
}

func rotate90CW(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

func rotate270CW(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(y, w-1-x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// ScaleToFit is scaleToFit exported for the same reason as ApplyOrientation.
func ScaleToFit(img image.Image, maxSize int) image.Image {
	return scaleToFit(img, maxSize)
}

// scaleToFit nearest-neighbor scales img so its longest side is maxSize,
// the same approach the color descriptor's pre-resize uses to preserve
// color values exactly, reused here for the general-purpose loader too.
func scaleToFit(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxSize {
		return img
	}
	scale := float64(maxSize) / float64(longest)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
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

// EncodeJPEG re-encodes img as JPEG at the given quality, used by tests that
// need to produce fixture files without external tools.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// EncodePNG re-encodes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// ToRGBA materializes any image.Image into a draw-able *image.RGBA for
// direct pixel access.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
