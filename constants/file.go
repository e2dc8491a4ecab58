package constants

import (
	"bytes"
	"strings"
)

// ImageFormat is a photo encoding recognised from its leading bytes.
type ImageFormat string

const (
	JPEG    ImageFormat = "jpeg"
	PNG     ImageFormat = "png"
	GIF     ImageFormat = "gif"
	WEBP    ImageFormat = "webp"
	Unknown ImageFormat = ""
)

// AllowedExtensions holds the file extensions the folder watcher picks up.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DetectImageFormat sniffs the magic bytes of data.
func DetectImageFormat(data []byte) ImageFormat {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return JPEG
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}):
		return PNG
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return GIF
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return WEBP
	}
	return Unknown
}

// MimeType returns the media type for f, or application/octet-stream.
func (f ImageFormat) MimeType() string {
	if f == Unknown {
		return "application/octet-stream"
	}
	return "image/" + string(f)
}
