package faceapi

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// ErrEmptyCrop is returned when a bounding box has no overlap with the image.
var ErrEmptyCrop = errors.New("face box outside image bounds")

// CropFace cuts the box out of img, clamped to the image bounds, and scales it
// to a size×size square.
func CropFace(img image.Image, box image.Rectangle, size int) (image.Image, error) {
	r := box.Canon().Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrEmptyCrop
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, r, draw.Over, nil)
	return dst, nil
}

// FitWithin scales img down to fit a maxWidth×maxHeight box, keeping the
// aspect ratio. Images that already fit, or a non-positive limit, are
// returned unchanged.
func FitWithin(img image.Image, maxWidth, maxHeight int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || maxHeight <= 0 || (b.Dx() <= maxWidth && b.Dy() <= maxHeight) {
		return img
	}

	w, h := maxWidth, b.Dy()*maxWidth/b.Dx()
	if h > maxHeight {
		w, h = b.Dx()*maxHeight/b.Dy(), maxHeight
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img with the quality used for frames and crops.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
