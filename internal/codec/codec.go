// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codec provides image format detection and decoding. Decoded
// frames are presented to the loader as full-canvas RGBA bitmaps with
// per-frame placement, timing and disposal metadata.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/jpegn"
	ico "github.com/sergeymakinen/go-ico"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// ErrUnknownFormat is returned by Open when the content type of the
// data is not recognised or no decoder is registered for it.
var ErrUnknownFormat = errors.New("unknown image format")

// FrameMeta describes the timing and placement of a single frame.
type FrameMeta struct {
	// DurationMS is the frame display duration in milliseconds.
	// Zero means the source did not specify one.
	DurationMS int

	// Disposal is the frame's disposal method. It is zero for
	// frames of static images.
	Disposal byte

	// Bounds is the frame's placement rectangle on the canvas.
	Bounds image.Rectangle
}

// Disposal methods, matching the GIF specification and the values
// used by image/gif.
const (
	DisposalUnspecified = 0x00
	DisposalNone        = 0x01
	DisposalBackground  = 0x02
	DisposalPrevious    = 0x03
)

// Source is an open sequence of decodable frames. A Source holding a
// single frame is a static image. Sources are not safe for concurrent
// use.
type Source interface {
	// Canvas returns the logical bounds that frames are
	// placed on.
	Canvas() image.Rectangle

	// FrameCount returns the number of frames.
	FrameCount() int

	// Frame returns the ith frame and its metadata.
	Frame(i int) (image.Image, FrameMeta, error)

	// Close releases resources held by the source.
	Close() error
}

type opener func(io.Reader) (Source, error)

// formats maps sniffed MIME types to source openers. Matching uses
// mimetype's alias handling, so registering the canonical type is
// sufficient.
var formats = map[string]opener{
	"image/png":    openStatic(png.Decode),
	"image/jpeg":   openJPEG,
	"image/gif":    openGIF,
	"image/bmp":    openStatic(bmp.Decode),
	"image/tiff":   openStatic(tiff.Decode),
	"image/webp":   openStatic(webp.Decode),
	"image/x-icon": openStatic(ico.Decode),
}

// Open sniffs the content type of the data held by r and decodes it
// with the codec registered for that type. It returns a wrapped
// ErrUnknownFormat if the type is not supported.
func Open(r io.Reader) (Source, error) {
	var peek bytes.Buffer
	mime, err := mimetype.DetectReader(io.TeeReader(r, &peek))
	if err != nil {
		return nil, fmt.Errorf("detect format: %w", err)
	}
	for typ, open := range formats {
		if mime.Is(typ) {
			return open(io.MultiReader(&peek, r))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, mime)
}

// openStatic adapts a plain decode function to an opener returning a
// single-frame source.
func openStatic(decode func(io.Reader) (image.Image, error)) opener {
	return func(r io.Reader) (Source, error) {
		m, err := decode(r)
		if err != nil {
			return nil, err
		}
		return &static{frame: ToRGBA(m)}, nil
	}
}

// openJPEG decodes a JPEG image, correcting orientation from EXIF
// metadata when present.
func openJPEG(r io.Reader) (Source, error) {
	m, err := jpegn.Decode(r, &jpegn.Options{ToRGBA: true, AutoRotate: true})
	if err != nil {
		return nil, err
	}
	return &static{frame: ToRGBA(m)}, nil
}

// static is a single-frame Source.
type static struct {
	frame *image.RGBA
}

func (s *static) Canvas() image.Rectangle { return s.frame.Bounds() }

func (s *static) FrameCount() int { return 1 }

func (s *static) Frame(i int) (image.Image, FrameMeta, error) {
	if i != 0 {
		return nil, FrameMeta{}, fmt.Errorf("frame index out of range: %d", i)
	}
	return s.frame, FrameMeta{Bounds: s.frame.Bounds()}, nil
}

func (s *static) Close() error { return nil }
