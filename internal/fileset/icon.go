package fileset

import (
	"image"
	"image/color"
	"image/color/palette"

	"golang.org/x/image/draw"
)

// MaxIconSize bounds both icon dimensions.
const MaxIconSize = 128

const (
	photometricMonochrome = "MONOCHROME2"
	photometricPalette    = "PALETTE COLOR"
)

// EncodeIcon scales img to fit MaxIconSize, preserving aspect ratio, and
// encodes it as 8-bit MONOCHROME2 when every pixel is gray or as PALETTE COLOR
// over a 6x6x6 colour cube otherwise. A nil or empty image yields nil.
func EncodeIcon(img image.Image) *Icon {
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	thumb := scaleToFit(img, MaxIconSize)
	b := thumb.Bounds()
	w, h := b.Dx(), b.Dy()

	icon := &Icon{
		Rows:            h,
		Columns:         w,
		SamplesPerPixel: 1,
		BitsAllocated:   8,
		BitsStored:      8,
		HighBit:         7,
	}

	if isGray(thumb) {
		gray := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(gray, gray.Bounds(), thumb, b.Min, draw.Src)
		icon.PhotometricInterpretation = photometricMonochrome
		icon.PixelData = gray.Pix
		return icon
	}

	cube := palette.WebSafe
	indexed := image.NewPaletted(image.Rect(0, 0, w, h), cube)
	draw.FloydSteinberg.Draw(indexed, indexed.Bounds(), thumb, b.Min)

	n := len(cube)
	icon.PhotometricInterpretation = photometricPalette
	icon.PaletteDescriptor = []int{n, 0, 8}
	icon.RedPalette = make([]byte, n)
	icon.GreenPalette = make([]byte, n)
	icon.BluePalette = make([]byte, n)
	for i, c := range cube {
		r, g, bl, _ := c.RGBA()
		icon.RedPalette[i] = uint8(r >> 8)
		icon.GreenPalette[i] = uint8(g >> 8)
		icon.BluePalette[i] = uint8(bl >> 8)
	}
	icon.PixelData = indexed.Pix
	return icon
}

func scaleToFit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return img
	}
	if w >= h {
		h = max(1, h*limit/w)
		w = limit
	} else {
		w = max(1, w*limit/h)
		h = limit
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R != c.G || c.G != c.B {
				return false
			}
		}
	}
	return true
}
