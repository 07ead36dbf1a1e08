// Package imaging produces stored photo variants and OCR-friendly preprocessed images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	VariantOriginal  = "original"
	VariantMedium    = "medium"
	VariantThumbnail = "thumbnail"

	mediumMaxSide    = 1280
	thumbnailMaxSide = 320
	ocrMaxSide       = 2400
	ocrMinSide       = 1000
	jpegQuality      = 85
)

var ErrUnsupportedImage = errors.New("unsupported_image")

// Variant is one encoded rendition of a captured photo.
type Variant struct {
	Name        string
	ContentType string
	Data        []byte
}

// Decode sniffs the format (jpeg, png, gif, webp, bmp, tiff).
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, format, nil
}

// Variants keeps the original bytes untouched and adds downscaled JPEG renditions.
func Variants(data []byte) ([]Variant, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}

	variants := []Variant{{
		Name:        VariantOriginal,
		ContentType: contentType(format),
		Data:        data,
	}}

	for _, spec := range []struct {
		name    string
		maxSide int
	}{
		{VariantMedium, mediumMaxSide},
		{VariantThumbnail, thumbnailMaxSide},
	} {
		scaled := fit(img, spec.maxSide)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encode %s: %w", spec.name, err)
		}
		variants = append(variants, Variant{
			Name:        spec.name,
			ContentType: "image/jpeg",
			Data:        buf.Bytes(),
		})
	}
	return variants, nil
}

// Preprocess converts a label photo to a contrast-stretched grayscale PNG sized for OCR.
func Preprocess(data []byte) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}

	img = fit(img, ocrMaxSide)
	if b := img.Bounds(); max(b.Dx(), b.Dy()) < ocrMinSide {
		img = scaleTo(img, ocrMinSide)
	}

	gray := stretch(toGray(img))

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode preprocessed: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales img down so its longest side is at most maxSide. Smaller images are returned as is.
func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if max(b.Dx(), b.Dy()) <= maxSide {
		return img
	}
	return scaleTo(img, maxSide)
}

func scaleTo(img image.Image, longSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}
	var tw, th int
	if w >= h {
		tw = longSide
		th = h * longSide / w
	} else {
		th = longSide
		tw = w * longSide / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// stretch maps the darkest pixel to black and the brightest to white.
func stretch(img *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, p := range img.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi <= lo {
		return img
	}
	span := float64(hi - lo)
	out := image.NewGray(img.Rect)
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			v := img.GrayAt(x, y).Y
			out.SetGray(x, y, color.Gray{Y: uint8(float64(v-lo) * 255 / span)})
		}
	}
	return out
}

func contentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
