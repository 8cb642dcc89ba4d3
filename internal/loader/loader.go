// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loader implements asynchronous image loading and animation
// frame scheduling. A Loader decodes images in a single background
// worker, supersedes the in-flight load when a new request arrives,
// and steps multi-frame images according to their frame timing,
// delivering results to the consumer as events.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/squibbysquibby/imv/internal/codec"
)

const (
	// BufferPath is the path reported in events for loads from an
	// in-memory buffer.
	BufferPath = "-"

	// defaultFrameTimeMS is the frame display duration used when a
	// source does not specify one.
	defaultFrameTimeMS = 100

	// eventBuffer is the event channel capacity. Enqueues beyond it
	// drop the event rather than blocking a worker.
	eventBuffer = 16
)

// Loader is an asynchronous image loader. At most one worker is doing
// useful work at any time; a new load request cancels and detaches the
// previous worker, whose result is then discarded. Frame advances are
// ordered, joining the previous worker before starting.
//
// The zero value is not usable; use New.
type Loader struct {
	log    *slog.Logger
	events chan Event

	// open decodes a source from image data. It is the package
	// codec's Open except in tests.
	open func(io.Reader) (codec.Source, error)

	// wg counts every started worker, including cancelled and
	// detached ones, so Close can join them all.
	wg sync.WaitGroup

	mu         sync.Mutex
	path       string
	src        codec.Source
	canvas     *image.RGBA
	width      int
	height     int
	frameCount int
	cur, next  int
	frameTime  float64 // seconds until the next frame is due
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{} // closed when the current worker exits
	closed     bool
}

// New returns a Loader delivering events on the channel returned by
// Events.
func New(log *slog.Logger) *Loader {
	return &Loader{
		log:    log.With(slog.String("component", "loader")),
		open:   codec.Open,
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the channel events are delivered on. The channel is
// closed by Close. Events are dropped, with a log record, if the
// consumer falls behind.
func (l *Loader) Events() <-chan Event {
	return l.events
}

// Load asynchronously decodes the image at path, replacing the current
// image when the decode succeeds. An in-flight load is cancelled and
// its result discarded; Load does not wait for it to observe the
// cancellation.
func (l *Loader) Load(ctx context.Context, path string) {
	l.start(ctx, path, nil)
}

// LoadBytes asynchronously decodes the image held by data. The caller
// must keep data unmodified until a subsequent load has completed or
// the loader is closed. Events report the load with path BufferPath.
func (l *Loader) LoadBytes(ctx context.Context, data []byte) {
	l.start(ctx, BufferPath, data)
}

func (l *Loader) start(ctx context.Context, path string, data []byte) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.path = path
	if l.cancel != nil {
		// Ask any in-flight worker to stop and detach it. Its
		// result is discarded by the generation check whether or
		// not it observes the cancellation in time.
		l.cancel()
	}
	l.generation++
	gen := l.generation
	wctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(done)
			l.wg.Done()
		}()
		l.loadImage(wctx, gen, path, data)
	}()
}

// loadImage is the new-image worker body. Cancellation is checked
// after the decode and again under the lock immediately before
// installing, so a superseded worker never mutates installed state.
func (l *Loader) loadImage(ctx context.Context, gen uint64, path string, data []byte) {
	var r io.Reader
	if data != nil {
		r = bytes.NewReader(data)
	} else {
		f, err := os.Open(path)
		if err != nil {
			l.fail(ctx, gen, path, err)
			return
		}
		defer f.Close()
		r = f
	}

	src, err := l.open(r)
	if err != nil {
		l.fail(ctx, gen, path, err)
		return
	}

	// A superseding load may have arrived during the decode.
	if ctx.Err() != nil {
		src.Close()
		return
	}

	frame, meta, err := src.Frame(0)
	if err != nil {
		src.Close()
		l.fail(ctx, gen, path, err)
		return
	}
	count := src.FrameCount()
	bounds := src.Canvas()
	canvas := codec.ExpandToCanvas(frame, bounds, meta.Bounds)

	l.mu.Lock()
	defer l.mu.Unlock()
	if ctx.Err() != nil || gen != l.generation || l.closed {
		src.Close()
		return
	}
	if l.src != nil {
		l.src.Close()
	}
	if count > 1 {
		l.src = src
	} else {
		l.src = nil
		src.Close()
	}
	l.canvas = canvas
	l.width = bounds.Dx()
	l.height = bounds.Dy()
	l.frameCount = count
	l.cur = 0
	l.next = 1 % count
	var durMS int
	if count > 1 {
		durMS = duration(meta)
		l.frameTime = float64(durMS) / 1000
	} else {
		l.frameTime = 0
	}
	l.log.LogAttrs(ctx, slog.LevelDebug, "image ready",
		slog.String("path", path), slog.Int("frames", count),
		slog.Int("width", l.width), slog.Int("height", l.height))
	l.emit(ctx, ImageReady{Image: l.decoded(durMS), IsNewImage: true})
}

// TimeElapsed advances the animation clock by dt seconds. When the
// current frame's remaining time is exhausted a frame advance is
// triggered; static images never advance and their remaining time is
// pinned at zero.
func (l *Loader) TimeElapsed(ctx context.Context, dt float64) {
	l.mu.Lock()
	if l.frameCount < 2 {
		l.frameTime = 0
		l.mu.Unlock()
		return
	}
	l.frameTime -= dt
	due := l.frameTime < 0
	l.mu.Unlock()
	if due {
		l.advance(ctx)
	}
}

// RemainingTime returns the time in seconds until the next frame of
// the current image is due. The value is a snapshot and may be
// observed transiently negative while an advance is pending.
func (l *Loader) RemainingTime() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameTime
}

// advance joins any in-flight worker and spawns the frame-advance
// worker. Advances are ordered with respect to all other workers; this
// is the only path that waits for one.
func (l *Loader) advance(ctx context.Context) {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}

	l.mu.Lock()
	if l.closed || l.frameCount < 2 {
		l.mu.Unlock()
		return
	}
	gen := l.generation
	wctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	done = make(chan struct{})
	l.done = done
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(done)
			l.wg.Done()
		}()
		l.advanceFrame(wctx, gen)
	}()
}

// advanceFrame is the frame-advance worker body. It runs with the lock
// held throughout; per-frame work is cheap relative to an initial
// decode.
func (l *Loader) advanceFrame(ctx context.Context, gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ctx.Err() != nil || gen != l.generation || l.closed || l.frameCount < 2 {
		return
	}
	if l.src == nil {
		panic(fmt.Sprintf("loader: no frame source with %d frames", l.frameCount))
	}
	l.cur = l.next
	l.next = (l.cur + 1) % l.frameCount
	frame, meta, err := l.src.Frame(l.cur)
	if err != nil {
		panic(fmt.Sprintf("loader: frame %d of %d: %v", l.cur, l.frameCount, err))
	}
	durMS := duration(meta)
	l.frameTime += float64(durMS) / 1000

	switch {
	case l.cur > 0 && l.canvas != nil &&
		(meta.Disposal == codec.DisposalUnspecified || meta.Disposal == codec.DisposalNone):
		l.canvas = codec.Composite(l.canvas, frame, meta.Bounds)
	default:
		// Frame zero and the restore disposal methods render the
		// frame directly.
		l.canvas = codec.ExpandToCanvas(frame, image.Rect(0, 0, l.width, l.height), meta.Bounds)
	}
	l.emit(ctx, ImageReady{Image: l.decoded(durMS), IsNewImage: false})
}

// Status is a snapshot of the loader's installed image.
type Status struct {
	// Path is the most recently requested load source.
	Path string
	// FrameIndex and FrameCount describe the current frame.
	FrameIndex int
	FrameCount int
	// Remaining is the time in seconds until the next frame.
	Remaining float64
}

// Status returns a snapshot of the loader's current state.
func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Path:       l.path,
		FrameIndex: l.cur,
		FrameCount: l.frameCount,
		Remaining:  l.frameTime,
	}
}

// Close cancels any in-flight worker, waits for all workers to exit,
// releases the loader's state and closes the event channel. It is safe
// to call Close more than once.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	if l.src != nil {
		l.src.Close()
		l.src = nil
	}
	l.canvas = nil
	l.frameCount = 0
	l.mu.Unlock()
	close(l.events)
	return nil
}

// fail reports a load failure. Superseded and cancelled workers stay
// silent, and a failed load leaves previously installed state
// untouched.
func (l *Loader) fail(ctx context.Context, gen uint64, path string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ctx.Err() != nil || gen != l.generation || l.closed {
		return
	}
	l.log.LogAttrs(ctx, slog.LevelError, "load failed",
		slog.String("path", path), slog.Any("error", err))
	l.emit(ctx, LoadFailed{Path: path, Err: err})
}

// emit enqueues ev without blocking, dropping it if the consumer has
// fallen behind.
func (l *Loader) emit(ctx context.Context, ev Event) {
	select {
	case l.events <- ev:
	default:
		l.log.LogAttrs(ctx, slog.LevelWarn, "dropped event", slog.Any("event", ev))
	}
}

// decoded returns the DecodedImage for the current canvas. The caller
// must hold l.mu.
func (l *Loader) decoded(durMS int) *DecodedImage {
	return &DecodedImage{
		Frame:      l.canvas,
		Width:      l.width,
		Height:     l.height,
		DurationMS: durMS,
		Index:      l.cur,
		Count:      l.frameCount,
	}
}

// duration returns the display duration of a frame in milliseconds,
// applying the default when the source does not specify one.
func duration(meta codec.FrameMeta) int {
	if meta.DurationMS == 0 {
		return defaultFrameTimeMS
	}
	return meta.DurationMS
}
