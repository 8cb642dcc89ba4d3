// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loader

import (
	"image"
	"log/slog"
)

// Event is a notification delivered on a Loader's event channel.
type Event interface {
	isEvent()
}

// ImageReady reports a decoded image or animation frame ready for
// display. Events are enqueued in installation order; an ImageReady
// always describes a state the loader actually held.
type ImageReady struct {
	Image *DecodedImage

	// IsNewImage is true for the first frame of a newly loaded
	// image and false for animation frame advances.
	IsNewImage bool
}

func (ImageReady) isEvent() {}

// LogValue implements slog.LogValuer.
func (e ImageReady) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("new_image", e.IsNewImage),
		slog.Int("index", e.Image.Index),
		slog.Int("count", e.Image.Count),
	)
}

// LoadFailed reports that a load request could not be read or decoded.
// Any previously displayed image remains valid.
type LoadFailed struct {
	Path string
	Err  error
}

func (LoadFailed) isEvent() {}

// LogValue implements slog.LogValuer.
func (e LoadFailed) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", e.Path),
		slog.Any("error", e.Err),
	)
}

// DecodedImage is a ready-to-display frame covering the full image
// canvas. The frame is replaced, never mutated, on animation advances,
// so a held DecodedImage remains valid after later events.
type DecodedImage struct {
	Frame *image.RGBA

	// Width and Height are the canvas dimensions.
	Width  int
	Height int

	// DurationMS is the display duration of this frame. It is zero
	// for static images.
	DurationMS int

	// Index and Count locate the frame within its animation. Count
	// is 1 for static images.
	Index int
	Count int
}
