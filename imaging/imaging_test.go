package imaging

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestReasonableSize(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{512, 512},
		{513, 512},
		{519, 512},
		{520, 520},
		{0, 512},
		{-4, 512},
		{8192, 512},
		{9000, 512},
		{5, 8},
		{8191, 8184},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReasonableSize(tt.in), "ReasonableSize(%d)", tt.in)
	}
}

func TestReasonableSize_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(-100, 20000).Draw(rt, "n")
		got := ReasonableSize(n)
		if got%8 != 0 {
			rt.Fatalf("%d is not a multiple of 8", got)
		}
		if got <= 0 || got >= maxSize {
			rt.Fatalf("%d out of range", got)
		}
		if n >= 8 && n < maxSize && (got > n || n-got >= 8) {
			rt.Fatalf("ReasonableSize(%d) = %d is not the floor multiple of 8", n, got)
		}
	})
}

func TestParseSize(t *testing.T) {
	w, h, err := ParseSize("512x768")
	require.NoError(t, err)
	assert.Equal(t, 512, w)
	assert.Equal(t, 768, h)

	w, h, err = ParseSize(" 640X480 ")
	require.NoError(t, err)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	for _, bad := range []string{"", "512", "ax512", "512x", "1x2x3"} {
		_, _, err := ParseSize(bad)
		assert.ErrorIs(t, err, ErrInvalidSize, bad)
	}
}

func TestResizeShortEdge(t *testing.T) {
	portrait := solid(100, 200, color.RGBA{255, 0, 0, 255})
	got := ResizeShortEdge(portrait, 512)
	assert.Equal(t, 512, got.Bounds().Dx())
	assert.Equal(t, 1024, got.Bounds().Dy())

	landscape := solid(300, 150, color.RGBA{0, 255, 0, 255})
	got = ResizeShortEdge(landscape, 512)
	assert.Equal(t, 1024, got.Bounds().Dx())
	assert.Equal(t, 512, got.Bounds().Dy())
}

func TestScale(t *testing.T) {
	img := solid(10, 6, color.RGBA{1, 2, 3, 255})
	got := Scale(img, 2.5)
	assert.Equal(t, 25, got.Bounds().Dx())
	assert.Equal(t, 15, got.Bounds().Dy())
}

func TestBGRRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(1, 16).Draw(rt, "w")
		h := rapid.IntRange(1, 16).Draw(rt, "h")
		pix := rapid.SliceOfN(rapid.Byte(), w*h*3, w*h*3).Draw(rt, "pix")

		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i, p := 0, 0; i < len(pix); i, p = i+3, p+4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = pix[i], pix[i+1], pix[i+2], 0xff
		}

		bgr := ToBGR(img)
		back, err := FromBGR(w, h, bgr)
		if err != nil {
			rt.Fatalf("FromBGR: %v", err)
		}
		if !bytes.Equal(img.Pix, back.Pix) {
			rt.Fatalf("round trip mismatch")
		}
	})
}

func TestToBGR_ChannelOrder(t *testing.T) {
	img := solid(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	assert.Equal(t, []byte{30, 20, 10}, ToBGR(img))
}

func TestFromBGR_LengthMismatch(t *testing.T) {
	_, err := FromBGR(2, 2, make([]byte, 5))
	assert.Error(t, err)
	_, err = FromBGR(0, 2, nil)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestSaveAndLoadPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	src := solid(4, 3, color.RGBA{9, 8, 7, 255})
	require.NoError(t, SavePNG(path, src))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), got.Bounds())

	b64, err := PNGBase64(src)
	require.NoError(t, err)
	decoded, err := DecodeBase64(b64)
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())
}
