// Package photo checks uploaded receipt images and prepares them for the
// vision request.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/receipts-ingest/constants"
)

var (
	ErrEmpty       = errors.New("photo is empty")
	ErrTooLarge    = errors.New("photo exceeds size limit")
	ErrUnsupported = errors.New("photo format not supported")
	ErrMalformed   = errors.New("photo cannot be decoded")
)

const jpegQuality = 90

// Info describes a photo that passed Inspect.
type Info struct {
	Format      constants.ImageFormat
	MimeType    string
	Width       int
	Height      int
	Orientation int
}

// Inspect rejects a single photo that is empty, too large, of an unknown
// format or not decodable. It reads only the image header.
func Inspect(data []byte, maxBytes int64) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Info{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxBytes)
	}
	format := constants.DetectImageFormat(data)
	if format == constants.Unknown {
		return Info{}, ErrUnsupported
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: zero dimension", ErrMalformed)
	}
	info := Info{
		Format:      format,
		MimeType:    format.MimeType(),
		Width:       cfg.Width,
		Height:      cfg.Height,
		Orientation: 1,
	}
	if format == constants.JPEG {
		info.Orientation = Orientation(data)
	}
	return info, nil
}

// Orientation returns the EXIF orientation tag, or 1 when absent.
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Normalize rotates the photo upright and scales it so neither side exceeds
// maxDim (0 disables scaling). Photos that need neither are returned as is;
// otherwise the result is re-encoded as JPEG.
func Normalize(data []byte, maxDim int) ([]byte, string, error) {
	info, err := Inspect(data, 0)
	if err != nil {
		return nil, "", err
	}
	tooBig := maxDim > 0 && (info.Width > maxDim || info.Height > maxDim)
	if info.Orientation == 1 && !tooBig {
		return data, info.MimeType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	img = orient(img, info.Orientation)
	if tooBig {
		img = scale(img, maxDim)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), constants.JPEG.MimeType(), nil
}

func scale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// orient applies an EXIF orientation (2..8) so the result displays upright.
func orient(src image.Image, o int) image.Image {
	if o < 2 || o > 8 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2: // mirror
				dx, dy = w-1-x, y
			case 3: // 180
				dx, dy = w-1-x, h-1-y
			case 4: // flip
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // 90 cw
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // 90 ccw
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
