package scanner

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePPM(img *image.RGBA) []byte {
	b := img.Bounds()
	var buf bytes.Buffer
	buf.WriteString("P6\n")
	buf.WriteString(itoa(b.Dx()) + " " + itoa(b.Dy()) + "\n")
	buf.WriteString("255\n")
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			buf.WriteByte(byte(r >> 8))
			buf.WriteByte(byte(g >> 8))
			buf.WriteByte(byte(bl >> 8))
		}
	}
	return buf.Bytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestDecodePPM_RoundTrips(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src.Set(1, 0, color.RGBA{R: 40, G: 50, B: 60, A: 255})
	src.Set(2, 1, color.RGBA{R: 70, G: 80, B: 90, A: 255})

	raw := encodePPM(src)
	r := bufio.NewReader(bytes.NewReader(raw))

	decoded, err := decodePPM(r)
	require.NoError(t, err)

	b := decoded.Bounds()
	assert.Equal(t, 3, b.Dx())
	assert.Equal(t, 2, b.Dy())

	dr, dg, db, _ := decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(10<<8|10), dr)
	assert.Equal(t, uint32(20<<8|20), dg)
	assert.Equal(t, uint32(30<<8|30), db)
}

func TestDecodePPM_RejectsWrongMagic(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("P5\n1 1\n255\n\x00")))
	_, err := decodePPM(r)
	assert.Error(t, err)
}

func TestDecodePPM_RejectsNon8BitMaxVal(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("P6\n1 1\n65535\n\x00\x00")))
	_, err := decodePPM(r)
	assert.Error(t, err)
}

func TestDecodePPM_TruncatedPixelData(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("P6\n2 2\n255\n\x01\x02")))
	_, err := decodePPM(r)
	assert.Error(t, err)
}
