// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package term renders decoded frames inline in a terminal emulator
// using the iTerm2 graphics protocol.
package term

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	"golang.org/x/term"
)

// IsCompatible reports whether the terminal the process is attached to
// understands inline image escape sequences.
func IsCompatible() bool {
	switch os.Getenv("TERM_PROGRAM") {
	case "iTerm.app", "WezTerm", "mintty":
		return true
	}
	return os.Getenv("LC_TERMINAL") == "iTerm2"
}

// CellSize is the size of a terminal character cell in points.
type CellSize struct {
	Width  float64
	Height float64
	Scale  float64
}

// ReportCellSize queries the terminal attached to f for its character
// cell size. The terminal is placed in raw mode for the duration of
// the query.
func ReportCellSize(f *os.File) (sz CellSize, err error) {
	state, err := term.MakeRaw(int(f.Fd()))
	if err != nil {
		return CellSize{}, err
	}
	defer func() {
		rerr := term.Restore(int(f.Fd()), state)
		if err == nil {
			err = rerr
		}
	}()

	_, err = f.Write([]byte("\x1b]1337;ReportCellSize\x07"))
	if err != nil {
		return CellSize{}, err
	}
	b := make([]byte, 64)
	n, err := f.Read(b)
	if err != nil {
		return CellSize{}, err
	}
	return parseCellSize(b[:n])
}

// parseCellSize parses a ReportCellSize reply. The reply holds
// height and width in that order, with an optional scale.
//
//	\x1b]1337;ReportCellSize=14.0;6.0;1.0\x1b\\
func parseCellSize(b []byte) (CellSize, error) {
	const prefix = "ReportCellSize="
	s := string(b)
	start := strings.Index(s, prefix)
	if start < 0 {
		return CellSize{}, fmt.Errorf("no cell size in reply %q", s)
	}
	s = s[start+len(prefix):]
	if stop := strings.IndexAny(s, "\x1b\x07"); stop >= 0 {
		s = s[:stop]
	}
	parts := strings.Split(s, ";")
	if len(parts) < 2 {
		return CellSize{}, fmt.Errorf("incomplete cell size in reply %q", s)
	}
	sz := CellSize{Scale: 1}
	var err error
	sz.Height, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return CellSize{}, fmt.Errorf("invalid cell height: %w", err)
	}
	sz.Width, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return CellSize{}, fmt.Errorf("invalid cell width: %w", err)
	}
	if len(parts) > 2 {
		sz.Scale, err = strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return CellSize{}, fmt.Errorf("invalid cell scale: %w", err)
		}
	}
	return sz, nil
}

// Resolution is the pixel size of a terminal's drawable area and the
// pixel alignment of its character cells.
type Resolution struct {
	Width       int
	Height      int
	WidthAlign  int
	HeightAlign int
}

// DefaultCell is the character cell size assumed for terminals that do
// not answer the cell size query.
var DefaultCell = CellSize{Width: 8, Height: 16, Scale: 1}

// PixelResolution returns the pixel resolution of the terminal
// attached to f, falling back to DefaultCell for terminals that do not
// report their cell size.
func PixelResolution(f *os.File) (Resolution, error) {
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return Resolution{}, err
	}
	sz, err := ReportCellSize(f)
	if err != nil {
		sz = DefaultCell
	}
	return Resolution{
		Width:       w * int(sz.Width*sz.Scale),
		Height:      h * int(sz.Height*sz.Scale),
		WidthAlign:  int(sz.Width * sz.Scale),
		HeightAlign: int(sz.Height * sz.Scale),
	}, nil
}

// Sink writes decoded frames to a terminal as inline images, fitting
// them to the terminal's resolution.
type Sink struct {
	log   *slog.Logger
	w     io.Writer
	res   Resolution
	scale float64
}

// NewSink returns a Sink writing to w at the given resolution. Images
// are scaled by scale and then down to fit the resolution if needed.
func NewSink(w io.Writer, res Resolution, scale float64, log *slog.Logger) (*Sink, error) {
	if res.Width <= 0 || res.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution %dx%d", res.Width, res.Height)
	}
	if scale <= 0 {
		return nil, errors.New("invalid scale")
	}
	return &Sink{
		log:   log.With(slog.String("component", "term")),
		w:     w,
		res:   res,
		scale: scale,
	}, nil
}

// Display writes m to the terminal. A new image clears the screen and
// records the cursor position; a replacement frame redraws over the
// previous one in place. The escape sequence is written in a single
// Write so that interleaved terminal output cannot tear a frame.
func (s *Sink) Display(ctx context.Context, m image.Image, newImage bool) error {
	w, h := s.fit(m.Bounds().Dx(), m.Bounds().Dy())
	if w < 1 || h < 1 {
		return fmt.Errorf("image %v too small to display", m.Bounds().Size())
	}
	if image.Pt(w, h) != m.Bounds().Size() {
		m = transform.Resize(m, w, h, transform.Linear)
	}

	var buf bytes.Buffer
	if newImage {
		buf.WriteString("\x1b[2J\x1b[H\x1b7")
	} else {
		buf.WriteString("\x1b8")
	}
	buf.WriteString("\x1b]1337;File=inline=1:")
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	err := png.Encode(enc, m)
	if err != nil {
		return err
	}
	err = enc.Close()
	if err != nil {
		return err
	}
	buf.WriteString("\x07")

	s.log.LogAttrs(ctx, slog.LevelDebug, "display",
		slog.Int("width", w), slog.Int("height", h),
		slog.Bool("new_image", newImage), slog.Int("bytes", buf.Len()))
	_, err = s.w.Write(buf.Bytes())
	return err
}

// fit returns the display dimensions for an image of the given size,
// preserving its aspect ratio within the sink's resolution and
// aligning to whole character cells.
func (s *Sink) fit(dx, dy int) (w, h int) {
	w = int(float64(dx) * s.scale)
	h = int(float64(dy) * s.scale)
	if w > s.res.Width {
		w, h = s.res.Width, h*s.res.Width/w
	}
	if h > s.res.Height {
		w, h = w*s.res.Height/h, s.res.Height
	}
	if s.res.WidthAlign > 1 && w > s.res.WidthAlign {
		w -= w % s.res.WidthAlign
	}
	if s.res.HeightAlign > 1 && h > s.res.HeightAlign {
		h -= h % s.res.HeightAlign
	}
	return w, h
}
