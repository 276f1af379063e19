package imaging

import (
	"image"
	"image/jpeg"
	"io"
)

// DefaultQuality is used when callers pass a quality outside 1..100.
const DefaultQuality = 90

// JPEGEncoder writes baseline JPEG renditions.
type JPEGEncoder struct{}

// Encode writes img to w at quality.
func (JPEGEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}
