package photo

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-ingest/constants"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	good := pngBytes(t, 40, 20)

	info, err := Inspect(good, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, constants.PNG, info.Format)
	assert.Equal(t, "image/png", info.MimeType)
	assert.Equal(t, 40, info.Width)
	assert.Equal(t, 20, info.Height)
	assert.Equal(t, 1, info.Orientation)

	tests := []struct {
		name    string
		data    []byte
		max     int64
		wantErr error
	}{
		{name: "empty", data: nil, max: 10, wantErr: ErrEmpty},
		{name: "too large", data: good, max: 10, wantErr: ErrTooLarge},
		{name: "unknown format", data: []byte("%PDF-1.7 not an image"), max: 1 << 20, wantErr: ErrUnsupported},
		{name: "truncated png", data: good[:12], max: 1 << 20, wantErr: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Inspect(tt.data, tt.max)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNormalizeLeavesSmallUprightPhotoAlone(t *testing.T) {
	data := pngBytes(t, 30, 10)
	out, mime, err := Normalize(data, 100)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, "image/png", mime)
}

func TestNormalizeDownscales(t *testing.T) {
	out, mime, err := Normalize(pngBytes(t, 400, 200), 100)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestOrient(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	cw := orient(src, 6)
	assert.Equal(t, image.Rect(0, 0, 1, 2), cw.Bounds())
	assert.Equal(t, red, cw.At(0, 0))
	assert.Equal(t, blue, cw.At(0, 1))

	mirrored := orient(src, 2)
	assert.Equal(t, blue, mirrored.At(0, 0))
	assert.Equal(t, red, mirrored.At(1, 0))

	assert.Equal(t, src, orient(src, 1))
}
