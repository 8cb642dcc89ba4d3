// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/image/font/basicfont"

	"github.com/squibbysquibby/imv/internal/codec"
	"github.com/squibbysquibby/imv/internal/config"
	"github.com/squibbysquibby/imv/internal/history"
	"github.com/squibbysquibby/imv/internal/loader"
	"github.com/squibbysquibby/imv/internal/overlay"
	"github.com/squibbysquibby/imv/internal/remote"
	"github.com/squibbysquibby/imv/internal/term"
)

// Playlist navigation errors returned to remote control clients.
var (
	errEmptyPlaylist = errors.New("empty playlist")
	errAtStart       = errors.New("at start of playlist")
	errAtEnd         = errors.New("at end of playlist")
)

// statusRecent is the number of history records included in a status
// response.
const statusRecent = 5

// viewer holds the mutable state shared between the event loop and the
// remote control handlers. The sink and last frame are owned by the
// event loop goroutine; everything else is guarded by mu.
type viewer struct {
	log *slog.Logger
	// base is the root logger, used for spawned file watches which
	// attach their own component.
	base *slog.Logger
	load *loader.Loader
	hist *history.DB // nil when history is disabled

	// sink displays frames, or logs them when nil.
	sink *term.Sink
	// last is the most recently displayed frame, kept as a backdrop
	// for error messages.
	last *image.RGBA

	// changes carries watch events for the displayed file.
	changes chan<- config.Change

	mu       sync.Mutex
	playlist []string
	idx      int
	loop     bool
	overlay  bool
	reload   bool
	paused   bool
	stdin    []byte // image bytes for the stdin slot
	watch    context.CancelFunc
}

// show issues a load of the current playlist entry.
func (v *viewer) show(ctx context.Context) {
	v.mu.Lock()
	path := v.playlist[v.idx]
	data := v.stdin
	v.mu.Unlock()
	if path == loader.BufferPath {
		v.load.LoadBytes(ctx, data)
		return
	}
	v.load.Load(ctx, path)
}

// next moves to the following playlist entry and loads it.
func (v *viewer) next(ctx context.Context) error {
	return v.step(ctx, 1)
}

// prev moves to the preceding playlist entry and loads it.
func (v *viewer) prev(ctx context.Context) error {
	return v.step(ctx, -1)
}

func (v *viewer) step(ctx context.Context, delta int) error {
	v.mu.Lock()
	idx, err := step(v.idx, delta, len(v.playlist), v.loop)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	v.idx = idx
	v.mu.Unlock()
	v.show(ctx)
	return nil
}

// step returns the playlist index delta entries away from cur in a
// playlist of n entries.
func step(cur, delta, n int, loop bool) (int, error) {
	if n == 0 {
		return 0, errEmptyPlaylist
	}
	next := cur + delta
	if loop {
		return ((next % n) + n) % n, nil
	}
	if next < 0 {
		return cur, errAtStart
	}
	if next >= n {
		return cur, errAtEnd
	}
	return next, nil
}

// open inserts path after the current playlist entry, moves to it and
// loads it.
func (v *viewer) open(ctx context.Context, path string) {
	v.mu.Lock()
	at := min(v.idx+1, len(v.playlist))
	v.playlist = append(v.playlist[:at], append([]string{path}, v.playlist[at:]...)...)
	v.idx = at
	v.mu.Unlock()
	v.show(ctx)
}

func (v *viewer) setPaused(paused bool) {
	v.mu.Lock()
	v.paused = paused
	v.mu.Unlock()
}

func (v *viewer) isPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *viewer) setLoop(loop bool) {
	v.mu.Lock()
	v.loop = loop
	v.mu.Unlock()
}

func (v *viewer) setOverlay(on bool) {
	v.mu.Lock()
	v.overlay = on
	v.mu.Unlock()
}

// setReload enables or disables watching of the displayed file,
// starting or stopping the watch for the current image.
func (v *viewer) setReload(ctx context.Context, reload bool) {
	v.mu.Lock()
	changed := v.reload != reload
	v.reload = reload
	v.mu.Unlock()
	if !changed {
		return
	}
	v.rewatch(ctx, v.load.Status().Path)
}

// rewatch replaces the displayed-file watch with one for path. The
// watch delivers to the viewer's changes channel where the event loop
// reloads the file on content changes.
func (v *viewer) rewatch(ctx context.Context, path string) {
	v.mu.Lock()
	stop := v.watch
	v.watch = nil
	if v.reload && path != "" && path != loader.BufferPath {
		wctx, cancel := context.WithCancel(ctx)
		v.watch = cancel
		go func() {
			err := config.Watch(wctx, path, v.changes, -1, v.base)
			if err != nil {
				v.log.LogAttrs(ctx, slog.LevelWarn, "reload watch failed",
					slog.String("path", path), slog.Any("error", err))
			}
		}()
	}
	v.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// status returns the viewer's state for the status control method.
func (v *viewer) status(ctx context.Context) remote.StatusBody {
	st := v.load.Status()
	body := remote.StatusBody{
		Path:   st.Path,
		Frame:  st.FrameIndex,
		Frames: st.FrameCount,
		Paused: v.isPaused(),
	}
	if st.FrameCount > 1 {
		body.Remaining = &remote.Duration{Duration: time.Duration(st.Remaining * float64(time.Second))}
	}
	if v.hist != nil {
		recs, err := v.hist.Recent(ctx, statusRecent)
		if err == nil {
			for _, r := range recs {
				body.Recent = append(body.Recent, r.Path)
			}
		}
	}
	return body
}

// display handles an image ready event, recording history, displaying
// the frame and rewatching the displayed file for a new image.
func (v *viewer) display(ctx context.Context, ev loader.ImageReady) {
	path := v.load.Status().Path
	if ev.IsNewImage {
		if v.hist != nil && path != loader.BufferPath {
			// Add logs its own failures.
			v.hist.Add(ctx, path, ev.Image.Count, time.Now())
		}
		v.rewatch(ctx, path)
	}

	v.last = ev.Image.Frame
	if v.sink == nil {
		v.log.LogAttrs(ctx, slog.LevelInfo, "image ready",
			slog.String("path", path),
			slog.Int("frame", ev.Image.Index+1),
			slog.Int("frames", ev.Image.Count))
		return
	}

	m := image.Image(ev.Image.Frame)
	v.mu.Lock()
	bar := v.overlay
	paused := v.paused
	v.mu.Unlock()
	if bar {
		// Frames are shared with the loader's compositing state, so
		// decorate a copy.
		dst := codec.Clone(ev.Image.Frame)
		overlay.Strip(dst, statusText(path, ev.Image.Index, ev.Image.Count, paused),
			color.White, color.RGBA{A: 0xc0}, basicfont.Face7x13)
		m = dst
	}
	err := v.sink.Display(ctx, m, ev.IsNewImage)
	if err != nil {
		v.log.LogAttrs(ctx, slog.LevelError, "display failed", slog.Any("error", err))
	}
}

// fail handles a load failed event. The failure has already been
// logged by the loader; a message is drawn over the last displayed
// frame when a display is available.
func (v *viewer) fail(ctx context.Context, ev loader.LoadFailed) {
	if v.sink == nil {
		return
	}
	var dst *image.RGBA
	if v.last != nil {
		dst = codec.Clone(v.last)
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, 640, 120))
	}
	overlay.Message(dst, fmt.Sprintf("failed to load %s: %v", ev.Path, ev.Err),
		color.RGBA{R: 0xff, A: 0xff}, color.Black, basicfont.Face7x13)
	err := v.sink.Display(ctx, dst, true)
	if err != nil {
		v.log.LogAttrs(ctx, slog.LevelError, "display failed", slog.Any("error", err))
	}
}

// statusText formats the overlay status line.
func statusText(path string, index, count int, paused bool) string {
	if count < 2 {
		return path
	}
	text := fmt.Sprintf("%s [%d/%d]", path, index+1, count)
	if paused {
		text += " paused"
	}
	return text
}
