// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codec

import (
	"image"

	"golang.org/x/image/draw"
)

// ToRGBA returns m converted to a zero-origin RGBA image. The original
// image is returned unaltered if it already has that form.
func ToRGBA(m image.Image) *image.RGBA {
	if r, ok := m.(*image.RGBA); ok && r.Bounds().Min == (image.Point{}) {
		return r
	}
	b := m.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, m, b, draw.Src, nil)
	return dst
}

// ExpandToCanvas places frame at its placement rectangle on an
// otherwise transparent canvas-sized bitmap.
func ExpandToCanvas(frame image.Image, canvas, at image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, canvas.Dx(), canvas.Dy()))
	draw.Copy(dst, at.Min, frame, frame.Bounds(), draw.Src, nil)
	return dst
}

// Composite draws frame over a flattened copy of background at the
// frame's placement rectangle, returning the new canvas. The
// background is not modified.
func Composite(background *image.RGBA, frame image.Image, at image.Rectangle) *image.RGBA {
	dst := Flatten(background)
	draw.Copy(dst, at.Min, frame, frame.Bounds(), draw.Over, nil)
	return dst
}

// Flatten returns a copy of m with every pixel fully opaque.
func Flatten(m *image.RGBA) *image.RGBA {
	dst := Clone(m)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// Clone returns a copy of m.
func Clone(m *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(m.Rect)
	copy(dst.Pix, m.Pix)
	return dst
}
