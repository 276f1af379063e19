package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"

	"dicomdisc/internal/logging"
	"dicomdisc/internal/selection"
)

// DICOMRenderer decodes stored DICOM instances into 8-bit display rasters.
type DICOMRenderer struct {
	logger *slog.Logger
}

// NewDICOMRenderer constructs a renderer.
func NewDICOMRenderer(logger *slog.Logger) *DICOMRenderer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DICOMRenderer{logger: logger}
}

// Render decodes frame inst.Frame of inst.Source. Instances without pixel
// data render as nil with no error.
func (r *DICOMRenderer) Render(ctx context.Context, inst selection.ImageInstance) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := dicom.ParseFile(inst.Source, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", inst.Source, err)
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		if errors.Is(err, dicom.ErrorElementNotFound) {
			return nil, nil
		}
		return nil, err
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || info.IntentionallySkipped || len(info.Frames) == 0 {
		return nil, nil
	}
	index := inst.Frame
	if index < 0 || index >= len(info.Frames) {
		index = 0
	}
	raw, err := info.Frames[index].GetImage()
	if err != nil {
		return nil, fmt.Errorf("decode frame %d of %s: %w", index, inst.Source, err)
	}
	if raw == nil {
		return nil, nil
	}

	params := displayParams{
		slope:       floatValue(&ds, tag.RescaleSlope, 1),
		intercept:   floatValue(&ds, tag.RescaleIntercept, 0),
		center:      floatValue(&ds, tag.WindowCenter, math.NaN()),
		width:       floatValue(&ds, tag.WindowWidth, math.NaN()),
		monochrome1: strings.EqualFold(stringValue(&ds, tag.PhotometricInterpretation), "MONOCHROME1"),
	}
	r.logger.Debug("rendered instance",
		logging.String("source", inst.Source),
		logging.Int("frame", index),
		logging.Int("frames", len(info.Frames)),
	)
	return displayable(raw, params), nil
}

type displayParams struct {
	slope, intercept float64
	center, width    float64
	monochrome1      bool
}

// displayable converts a decoded frame into an 8-bit image. Grayscale frames
// are rescaled and windowed, falling back to the frame's value range.
func displayable(img image.Image, p displayParams) image.Image {
	switch src := img.(type) {
	case *image.Gray16:
		return windowGray16(src, p)
	case *image.Gray:
		if !p.monochrome1 {
			return src
		}
		out := image.NewGray(src.Bounds())
		for i, v := range src.Pix {
			out.Pix[i] = 255 - v
		}
		return out
	case *image.RGBA:
		return src
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func windowGray16(src *image.Gray16, p displayParams) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if p.slope == 0 {
		p.slope = 1
	}

	low, high := p.center-p.width/2, p.center+p.width/2
	if math.IsNaN(p.center) || math.IsNaN(p.width) || p.width <= 1 {
		low, high = math.Inf(1), math.Inf(-1)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := float64(src.Gray16At(x, y).Y)*p.slope + p.intercept
				low = math.Min(low, v)
				high = math.Max(high, v)
			}
		}
	}
	span := high - low
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(src.Gray16At(x, y).Y)*p.slope + p.intercept
			var level uint8
			switch {
			case span <= 0:
				level = 0
			case v <= low:
				level = 0
			case v >= high:
				level = 255
			default:
				level = uint8((v - low) / span * 255)
			}
			if p.monochrome1 {
				level = 255 - level
			}
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: level})
		}
	}
	return out
}

func stringValue(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return ""
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	case []int:
		if len(v) > 0 {
			return strconv.Itoa(v[0])
		}
	}
	return ""
}

func floatValue(ds *dicom.Dataset, t tag.Tag, fallback float64) float64 {
	s := stringValue(ds, t)
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}
