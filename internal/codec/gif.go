// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
)

// animation is a multi-frame GIF Source.
type animation struct {
	g      *gif.GIF
	canvas image.Rectangle
}

// openGIF decodes all frames of a GIF stream. Single-frame GIFs are
// returned as a static source. When the result is an animation, delay,
// disposal and global background index values are checked for
// validity.
func openGIF(r io.Reader) (Source, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 1 {
		frame := g.Image[0]
		return &static{frame: ExpandToCanvas(frame, canvasFor(g), frame.Bounds())}, nil
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && idx >= len(pal) {
		return nil, fmt.Errorf("global background colour index not in palette: %d", idx)
	}
	return &animation{g: g, canvas: canvasFor(g)}, nil
}

// canvasFor returns the logical screen bounds of g, falling back to
// the first frame's bounds when the header does not give a size.
func canvasFor(g *gif.GIF) image.Rectangle {
	if g.Config.Width > 0 && g.Config.Height > 0 {
		return image.Rect(0, 0, g.Config.Width, g.Config.Height)
	}
	return g.Image[0].Bounds()
}

func (a *animation) Canvas() image.Rectangle { return a.canvas }

func (a *animation) FrameCount() int { return len(a.g.Image) }

func (a *animation) Frame(i int) (image.Image, FrameMeta, error) {
	if i < 0 || i >= len(a.g.Image) {
		return nil, FrameMeta{}, fmt.Errorf("frame index out of range: %d", i)
	}
	frame := a.g.Image[i]
	meta := FrameMeta{Bounds: frame.Bounds()}
	if a.g.Delay != nil {
		// image/gif delays are in 100ths of a second.
		meta.DurationMS = 10 * a.g.Delay[i]
	}
	if a.g.Disposal != nil {
		meta.Disposal = a.g.Disposal[i]
	}
	return frame, meta, nil
}

func (a *animation) Close() error {
	a.g = nil
	return nil
}
