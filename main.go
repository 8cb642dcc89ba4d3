// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The imv command displays images and animations inline in a terminal
// emulator, reloading them when they change on disk and taking control
// commands over a unix socket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/kortschak/jsonrpc2"

	"github.com/squibbysquibby/imv/internal/config"
	"github.com/squibbysquibby/imv/internal/history"
	"github.com/squibbysquibby/imv/internal/loader"
	"github.com/squibbysquibby/imv/internal/remote"
	"github.com/squibbysquibby/imv/internal/slogext"
	"github.com/squibbysquibby/imv/internal/term"
	"github.com/squibbysquibby/imv/internal/version"
	"github.com/squibbysquibby/imv/internal/xdg"
)

// tick is the animation clock granularity.
const tick = 20 * time.Millisecond

var uid = remote.UID{Module: "imv"}

func main() {
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	playlist := flag.String("playlist", "", `file holding image paths, one per line, or "recent" for history`)
	scale := flag.Float64("scale", 1, "display scale")
	loop := flag.Bool("loop", true, "wrap playlist navigation at the ends")
	sock := flag.String("sock", "", "control socket path (default $XDG_RUNTIME_DIR/imv/imv.sock)")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %[1]s:\n\n  %[1]s [options] <path>...\n\nA path of - reads the image from standard input.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	// Flags that are explicitly set take precedence over the
	// corresponding configuration values.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["scale"] && (*scale <= 0 || *scale > 16) {
		fmt.Fprintln(os.Stderr, "scale must be in (0, 16]")
		os.Exit(2)
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		os.Exit(2)
	}
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "imv.main"))

	runtimeDir, err := xdg.Runtime(remote.RuntimeDir)
	if err != nil {
		if err != syscall.ENOENT {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		var ok bool
		runtimeDir, ok = xdg.RuntimeDir()
		if !ok {
			fmt.Fprintln(os.Stderr, "no xdg runtime directory")
			os.Exit(1)
		}
		runtimeDir = filepath.Join(runtimeDir, remote.RuntimeDir)
		err = os.Mkdir(runtimeDir, 0o700)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	pidFile := filepath.Join(runtimeDir, "pid")
	fl := flock.New(pidFile)
	ok, err := fl.TryLock()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "imv is already running")
		os.Exit(1)
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	cfgdir, err := xdg.Config("imv", true)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		var ok bool
		cfgdir, ok = xdg.ConfigHome()
		if !ok {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfgdir = filepath.Join(cfgdir, "imv")
		err := os.Mkdir(cfgdir, 0o755)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		mlog.LogAttrs(ctx, slog.LevelInfo, "created config dir", slog.String("path", cfgdir))
	}
	cfgpath := filepath.Join(cfgdir, "config.toml")
	cfg, err := config.Load(cfgpath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	mlog.LogAttrs(ctx, slog.LevelDebug, "configuration", slog.String("path", cfgpath), slog.Any("config", cfg))
	if !set["log"] {
		level.Set(cfg.LogLevel())
	}
	if !set["lines"] {
		addSource.Store(cfg.AddSource())
	}

	var hist *history.DB
	if cfg.HistoryEnabled() {
		histPath := cfg.HistoryPath()
		if histPath == "" {
			datadir, err := xdg.State("imv")
			if err != nil {
				if !os.IsNotExist(err) {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				var ok bool
				datadir, ok = xdg.StateHome()
				if !ok {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				datadir = filepath.Join(datadir, "imv")
				err := os.Mkdir(datadir, 0o755)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				mlog.LogAttrs(ctx, slog.LevelInfo, "created data dir", slog.String("path", datadir))
			}
			histPath = filepath.Join(datadir, "history.sqlite3")
		}
		hist, err = history.Open(histPath, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open history store: %v\n", err)
			os.Exit(1)
		}
		defer hist.Close()
		removed, err := hist.Prune(ctx, cfg.HistoryLimit())
		if err == nil && removed != 0 {
			mlog.LogAttrs(ctx, slog.LevelDebug, "pruned history", slog.Int64("removed", removed))
		}
	}

	paths, stdin, err := assemblePlaylist(ctx, flag.Args(), *playlist, hist)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ld := loader.New(log)
	defer ld.Close()

	displayScale := cfg.DisplayScale()
	if set["scale"] {
		displayScale = *scale
	}
	sink, res := openSink(ctx, displayScale, log, mlog)

	reloadCh := make(chan config.Change)
	view := &viewer{
		log:      log.With(slog.String("component", "viewer")),
		base:     log,
		load:     ld,
		hist:     hist,
		sink:     sink,
		changes:  reloadCh,
		playlist: paths,
		loop:     cfg.Loop(),
		overlay:  cfg.Overlay(),
		reload:   cfg.Reload(),
		stdin:    stdin,
	}
	if set["loop"] {
		view.loop = *loop
	}

	ctlSock := *sock
	if ctlSock == "" {
		ctlSock, err = remote.DefaultSocket()
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "no control socket path", slog.Any("error", err))
		}
	}
	if ctlSock != "" {
		ctl, err := remote.NewServer(ctx, ctlSock, jsonrpc2.NetListenOptions{}, log)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "remote control unavailable", slog.Any("error", err))
		} else {
			defer ctl.Close()
			ctl.Funcs(controlFuncs(view, cancel))
		}
	}

	cfgCh := make(chan config.Change)
	go func() {
		err := config.Watch(ctx, cfgpath, cfgCh, -1, log)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "config watch failed", slog.Any("error", err))
		}
	}()

	view.show(ctx)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			mlog.LogAttrs(ctx, slog.LevelInfo, "shutting down")
			return

		case ev, ok := <-ld.Events():
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case loader.ImageReady:
				view.display(ctx, ev)
			case loader.LoadFailed:
				view.fail(ctx, ev)
			}

		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if !view.isPaused() {
				ld.TimeElapsed(ctx, dt)
			}

		case ch := <-reloadCh:
			if ch.Err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "reload watch error", slog.Any("error", ch.Err))
				continue
			}
			// A watch that has just been replaced may still deliver
			// an event for the previous image.
			cur := ld.Status().Path
			if len(ch.Event) == 0 || filepath.Clean(ch.Event[0].Name) != cur {
				continue
			}
			mlog.LogAttrs(ctx, slog.LevelInfo, "reloading changed image", slog.String("path", cur))
			ld.Load(ctx, cur)

		case ch := <-cfgCh:
			if ch.Err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "config watch error", slog.Any("error", ch.Err))
				continue
			}
			next, err := config.Load(cfgpath)
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "not applying invalid configuration", slog.Any("error", err))
				continue
			}
			mlog.LogAttrs(ctx, slog.LevelInfo, "applying configuration", slog.Any("config", next))
			if !set["log"] {
				level.Set(next.LogLevel())
			}
			if !set["lines"] {
				addSource.Store(next.AddSource())
			}
			if !set["loop"] {
				view.setLoop(next.Loop())
			}
			view.setOverlay(next.Overlay())
			view.setReload(ctx, next.Reload())
			if !set["scale"] && next.DisplayScale() != displayScale && view.sink != nil {
				sink, err := term.NewSink(os.Stdout, res, next.DisplayScale(), log)
				if err != nil {
					mlog.LogAttrs(ctx, slog.LevelWarn, "not applying display scale", slog.Any("error", err))
				} else {
					displayScale = next.DisplayScale()
					view.sink = sink
				}
			}
		}
	}
}

// openSink prepares the terminal frame sink, degrading to nil, with
// frames logged instead of displayed, when stdout is not attached to a
// capable terminal.
func openSink(ctx context.Context, scale float64, log, mlog *slog.Logger) (*term.Sink, term.Resolution) {
	if !term.IsCompatible() {
		mlog.LogAttrs(ctx, slog.LevelWarn, "terminal cannot display images, logging instead")
		return nil, term.Resolution{}
	}
	res, err := term.PixelResolution(os.Stdout)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelWarn, "no terminal resolution, logging instead", slog.Any("error", err))
		return nil, term.Resolution{}
	}
	sink, err := term.NewSink(os.Stdout, res, scale, log)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelWarn, "cannot display images, logging instead", slog.Any("error", err))
		return nil, term.Resolution{}
	}
	mlog.LogAttrs(ctx, slog.LevelDebug, "terminal sink",
		slog.Int("width", res.Width), slog.Int("height", res.Height),
		slog.Float64("scale", scale))
	return sink, res
}

// assemblePlaylist builds the playlist from a playlist source and the
// command line args. Paths are made absolute so that history records
// and file watches are unambiguous; the path - stands for an image
// read from stdin, which is read here.
func assemblePlaylist(ctx context.Context, args []string, playlist string, hist *history.DB) (paths []string, stdin []byte, err error) {
	switch playlist {
	case "":
	case "recent":
		if hist == nil {
			return nil, nil, fmt.Errorf("playlist %q needs history enabled", playlist)
		}
		recs, err := hist.Recent(ctx, -1)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read history: %w", err)
		}
		for _, r := range recs {
			paths = append(paths, r.Path)
		}
	default:
		b, err := os.ReadFile(playlist)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read playlist: %w", err)
		}
		for _, line := range strings.Split(string(b), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				paths = append(paths, line)
			}
		}
	}
	paths = append(paths, args...)

	for i, p := range paths {
		if p == loader.BufferPath {
			if stdin == nil {
				stdin, err = io.ReadAll(os.Stdin)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to read stdin: %w", err)
				}
			}
			continue
		}
		paths[i], err = filepath.Abs(p)
		if err != nil {
			return nil, nil, err
		}
	}
	return paths, stdin, nil
}

// controlFuncs returns the remote control method handlers for v. The
// quit function cancels the viewer's context.
func controlFuncs(v *viewer, quit context.CancelFunc) remote.Funcs {
	bounds := func(err error) error {
		return remote.NewError(remote.ErrCodeInvalidData, err.Error(),
			map[string]any{"type": remote.ErrCodeBounds})
	}
	return remote.Funcs{
		remote.Next: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*remote.Message[any], error) {
			err := v.next(ctx)
			if err != nil {
				return nil, bounds(err)
			}
			return nil, nil
		},
		remote.Prev: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*remote.Message[any], error) {
			err := v.prev(ctx)
			if err != nil {
				return nil, bounds(err)
			}
			return nil, nil
		},
		remote.Open: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*remote.Message[any], error) {
			var m remote.Message[remote.OpenBody]
			err := remote.UnmarshalMessage(params, &m)
			if err != nil {
				return nil, err
			}
			if m.Body.Path == "" {
				return nil, remote.NewError(remote.ErrCodeInvalidData, "empty path",
					map[string]any{"type": remote.ErrCodePath})
			}
			path, err := filepath.Abs(m.Body.Path)
			if err != nil {
				return nil, remote.NewError(remote.ErrCodeInvalidData, err.Error(),
					map[string]any{"type": remote.ErrCodePath})
			}
			v.open(ctx, path)
			return nil, nil
		},
		remote.Pause: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*remote.Message[any], error) {
			v.setPaused(true)
			return nil, nil
		},
		remote.Resume: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*remote.Message[any], error) {
			v.setPaused(false)
			return nil, nil
		},
		remote.Status: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*remote.Message[any], error) {
			return remote.NewMessage(uid, any(v.status(ctx))), nil
		},
		remote.Quit: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*remote.Message[any], error) {
			quit()
			return nil, nil
		},
	}
}
