// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"errors"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a set of related file changes identified by Watch.
type Change struct {
	Event []fsnotify.Event
	Err   error
}

// Op returns an aggregated fsnotify.Op for all elements of the receiver's
// Event field.
func (c Change) Op() fsnotify.Op {
	switch len(c.Event) {
	case 0:
		return 0
	case 1:
		return c.Event[0].Op
	default:
		var op fsnotify.Op
		for _, o := range c.Event {
			op |= o.Op
		}
		return op
	}
}

// Watch sends change notifications for the file at path on the changes
// channel until ctx is cancelled or an unrecoverable watcher error occurs.
// It is used for configuration reload and for reload of the displayed
// image. The debounce parameter specifies how long to wait after an
// fsnotify.Event before reading the file to ensure that writes will be
// reflected in the content checksum. If it is less than zero, FileDebounce
// is used.
func Watch(ctx context.Context, path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) error {
	w, err := NewWatcher(path, changes, debounce, log)
	if err != nil {
		return err
	}
	return w.Watch(ctx)
}

// Watcher collects raw fsnotify.Events for a single file and aggregates
// and filters them for semantically meaningful content changes.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	last     *Sum
	log      *slog.Logger
}

// NewWatcher returns a Watcher sending change notifications for the file
// at path on the changes channel. The watch is held on the file's parent
// directory so that deletion and atomic replacement of the file are seen.
// The file's current contents, if it exists, prime the content checksum,
// so only subsequent changes are notified.
func NewWatcher(path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if debounce < 0 {
		debounce = FileDebounce
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		hash:     sha1.New(),
		log: log.With(
			slog.String("component", "watcher"),
			slog.String("path", path),
		),
	}
	b, err := os.ReadFile(path)
	if err == nil {
		sum := rawSum(w.hash, b)
		w.last = &sum
	} else if !errors.Is(err, fs.ErrNotExist) {
		watcher.Close()
		return nil, err
	}
	return w, nil
}

// Watch runs the watch loop, returning when ctx is cancelled or the
// underlying fsnotify watcher terminates.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "file event", slog.Any("event", newEventValue(ev)))
			switch {
			case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
				time.Sleep(w.debounce)
				b, err := os.ReadFile(w.path)
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						// The file was replaced or removed after the
						// event. A following event covers the new state.
						continue
					}
					w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
					continue
				}
				sum := rawSum(w.hash, b)
				if sum.Equal(w.last) {
					w.log.LogAttrs(ctx, slog.LevelDebug, "no content change", slog.Any("sum", &sum))
					continue
				}
				w.last = &sum
				w.send(ctx, Change{Event: []fsnotify.Event{ev}})

			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				// Invalidate the checksum so that recreation with
				// unchanged contents is still notified.
				w.last = nil
				w.send(ctx, Change{Event: []fsnotify.Event{ev}})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			w.log.LogAttrs(ctx, slog.LevelError, "watcher", slog.Any("error", err))
			w.send(ctx, Change{Err: err})
		}
	}
}

// send delivers c unless ctx is cancelled before the receiver takes it.
func (w *Watcher) send(ctx context.Context, c Change) {
	w.log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Any("change", changeValue{c}))
	select {
	case w.changes <- c:
	case <-ctx.Done():
	}
}

// rawSum returns the hash of the raw bytes in b.
func rawSum(h hash.Hash, b []byte) Sum {
	h.Reset()
	h.Write(b)
	return ([sha1.Size]byte)(h.Sum(nil))
}
