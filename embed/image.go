package embed

import (
	"net/http"

	"github.com/hubenschmidt/go-visearch/core"
)

// DefaultMaxImageBytes is the upload size cap applied before embedding.
const DefaultMaxImageBytes = 10 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// ValidateImage rejects empty, oversized and non-raster payloads.
// A maxBytes of zero or less means DefaultMaxImageBytes.
func ValidateImage(data []byte, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if len(data) == 0 {
		return core.Invalid("image is empty")
	}
	if int64(len(data)) > maxBytes {
		return core.Invalid("image is %d bytes, limit is %d", len(data), maxBytes)
	}
	if _, ok := imageExtensions[ContentType(data)]; !ok {
		return core.Invalid("unsupported image format %q", ContentType(data))
	}
	return nil
}

// ContentType sniffs the MIME type of data.
func ContentType(data []byte) string {
	return http.DetectContentType(data)
}

func extensionFor(data []byte) string {
	if ext, ok := imageExtensions[ContentType(data)]; ok {
		return ext
	}
	return ".jpg"
}

// Extension returns the file extension for a supported image, or "" otherwise.
func Extension(data []byte) string {
	return imageExtensions[ContentType(data)]
}
