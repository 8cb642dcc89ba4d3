// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/bmp"
)

var (
	opaque      = color.RGBA{R: 0xff, A: 0xff}
	transparent = color.RGBA{}
)

// encodeGIF returns a GIF stream of canvas-sized red frames with the
// provided delays in 100ths of a second and disposal methods.
func encodeGIF(t *testing.T, w, h int, delays []int, disposals []byte) []byte {
	t.Helper()
	pal := color.Palette{color.Transparent, color.RGBA{R: 0xff, A: 0xff}, color.RGBA{G: 0xff, A: 0xff}}
	g := gif.GIF{Delay: delays, Disposal: disposals}
	for range delays {
		frame := image.NewPaletted(image.Rect(0, 0, w, h), pal)
		for i := range frame.Pix {
			frame.Pix[i] = 1
		}
		g.Image = append(g.Image, frame)
	}
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &g)
	if err != nil {
		t.Fatalf("unexpected error encoding gif: %v", err)
	}
	return buf.Bytes()
}

func TestOpen(t *testing.T) {
	var pngBuf, bmpBuf bytes.Buffer
	m := image.NewRGBA(image.Rect(0, 0, 3, 2))
	err := png.Encode(&pngBuf, m)
	if err != nil {
		t.Fatalf("unexpected error encoding png: %v", err)
	}
	err = bmp.Encode(&bmpBuf, m)
	if err != nil {
		t.Fatalf("unexpected error encoding bmp: %v", err)
	}

	openTests := []struct {
		name string
		data []byte

		wantFrames int
		wantCanvas image.Rectangle
		wantErr    error
	}{
		{name: "png", data: pngBuf.Bytes(), wantFrames: 1, wantCanvas: image.Rect(0, 0, 3, 2)},
		{name: "bmp", data: bmpBuf.Bytes(), wantFrames: 1, wantCanvas: image.Rect(0, 0, 3, 2)},
		{name: "gif_static", data: encodeGIF(t, 4, 4, []int{10}, []byte{0}), wantFrames: 1, wantCanvas: image.Rect(0, 0, 4, 4)},
		{name: "gif_animated", data: encodeGIF(t, 4, 4, []int{10, 20, 0}, []byte{0, 1, 2}), wantFrames: 3, wantCanvas: image.Rect(0, 0, 4, 4)},
		{name: "unknown", data: []byte("not an image at all, not even close"), wantErr: ErrUnknownFormat},
		{name: "empty", data: nil, wantErr: ErrUnknownFormat},
	}
	for _, test := range openTests {
		t.Run(test.name, func(t *testing.T) {
			src, err := Open(bytes.NewReader(test.data))
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			defer src.Close()
			if got := src.FrameCount(); got != test.wantFrames {
				t.Errorf("unexpected frame count: got:%d want:%d", got, test.wantFrames)
			}
			if got := src.Canvas(); got != test.wantCanvas {
				t.Errorf("unexpected canvas: got:%v want:%v", got, test.wantCanvas)
			}
		})
	}
}

func TestFrameMeta(t *testing.T) {
	src, err := Open(bytes.NewReader(encodeGIF(t, 2, 2, []int{10, 20, 0}, []byte{0, 1, 2})))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer src.Close()

	want := []FrameMeta{
		{DurationMS: 100, Disposal: DisposalUnspecified, Bounds: image.Rect(0, 0, 2, 2)},
		{DurationMS: 200, Disposal: DisposalNone, Bounds: image.Rect(0, 0, 2, 2)},
		{DurationMS: 0, Disposal: DisposalBackground, Bounds: image.Rect(0, 0, 2, 2)},
	}
	for i, w := range want {
		_, meta, err := src.Frame(i)
		if err != nil {
			t.Fatalf("unexpected error for frame %d: %v", i, err)
		}
		if !cmp.Equal(meta, w) {
			t.Errorf("unexpected metadata for frame %d:\n%s", i, cmp.Diff(meta, w))
		}
	}

	_, _, err = src.Frame(3)
	if err == nil {
		t.Error("expected error for out of range frame index")
	}
}

func TestExpandToCanvas(t *testing.T) {
	frame := image.NewRGBA(image.Rect(1, 1, 3, 3))
	for y := 1; y < 3; y++ {
		for x := 1; x < 3; x++ {
			frame.SetRGBA(x, y, opaque)
		}
	}

	got := ExpandToCanvas(frame, image.Rect(0, 0, 4, 4), frame.Bounds())
	if got.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("unexpected canvas bounds: got:%v want:%v", got.Bounds(), image.Rect(0, 0, 4, 4))
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := transparent
			if x >= 1 && x < 3 && y >= 1 && y < 3 {
				want = opaque
			}
			if got.RGBAAt(x, y) != want {
				t.Errorf("unexpected pixel at (%d,%d): got:%v want:%v", x, y, got.RGBAAt(x, y), want)
			}
		}
	}
}

func TestComposite(t *testing.T) {
	background := image.NewRGBA(image.Rect(0, 0, 2, 2))
	background.SetRGBA(0, 0, color.RGBA{G: 0xff, A: 0xff})

	frame := image.NewRGBA(image.Rect(1, 1, 2, 2))
	frame.SetRGBA(1, 1, opaque)

	got := Composite(background, frame, frame.Bounds())

	// The untouched background pixel is retained.
	if w := (color.RGBA{G: 0xff, A: 0xff}); got.RGBAAt(0, 0) != w {
		t.Errorf("unexpected pixel at (0,0): got:%v want:%v", got.RGBAAt(0, 0), w)
	}
	// The frame pixel is drawn over.
	if got.RGBAAt(1, 1) != opaque {
		t.Errorf("unexpected pixel at (1,1): got:%v want:%v", got.RGBAAt(1, 1), opaque)
	}
	// Flattening makes previously transparent background pixels opaque black.
	if w := (color.RGBA{A: 0xff}); got.RGBAAt(0, 1) != w {
		t.Errorf("unexpected pixel at (0,1): got:%v want:%v", got.RGBAAt(0, 1), w)
	}
	// The input background is unmodified.
	if background.RGBAAt(0, 1) != transparent {
		t.Errorf("background was modified: got:%v want:%v", background.RGBAAt(0, 1), transparent)
	}
}

func TestToRGBA(t *testing.T) {
	zeroOrigin := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if got := ToRGBA(zeroOrigin); got != zeroOrigin {
		t.Error("expected zero-origin RGBA image to be returned unaltered")
	}

	offset := image.NewRGBA(image.Rect(2, 2, 4, 4))
	offset.SetRGBA(3, 3, opaque)
	got := ToRGBA(offset)
	if got.Bounds() != image.Rect(0, 0, 2, 2) {
		t.Fatalf("unexpected bounds: got:%v want:%v", got.Bounds(), image.Rect(0, 0, 2, 2))
	}
	if got.RGBAAt(1, 1) != opaque {
		t.Errorf("unexpected pixel at (1,1): got:%v want:%v", got.RGBAAt(1, 1), opaque)
	}
}
