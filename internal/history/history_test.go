// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package history

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/squibbysquibby/imv/internal/slogext"
)

const workDir = "testdata"

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
	keep    = flag.Bool("keep", false, "keep workdir after tests")
)

func Test(t *testing.T) {
	err := os.Mkdir(workDir, 0o755)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		t.Fatalf("failed to make dir: %v", err)
	}
	if !*keep {
		t.Cleanup(func() {
			os.RemoveAll(workDir)
		})
	}

	ctx := context.Background()
	base := time.Date(2025, time.July, 14, 12, 0, 0, 0, time.UTC)

	t.Run("db", func(t *testing.T) {
		const dbPath = "test.db"

		path := filepath.Join(workDir, dbPath)
		err = os.Remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("failed to clean dir: %v", err)
		}

		var logBuf bytes.Buffer
		log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: slogext.NewAtomicBool(*lines),
		}))
		defer func() {
			if *verbose && logBuf.Len() != 0 {
				t.Logf("log:\n%s\n", &logBuf)
			}
		}()

		db, err := Open(path, log)
		if err != nil {
			t.Fatalf("failed to create db: %v", err)
		}

		for _, add := range []struct {
			path   string
			frames int
			seen   time.Time
		}{
			{path: "a.png", frames: 1, seen: base},
			{path: "b.gif", frames: 3, seen: base.Add(time.Second)},
			{path: "c.png", frames: 1, seen: base.Add(2 * time.Second)},
			// Revisit a.png to bump its visit count and recency.
			{path: "a.png", frames: 1, seen: base.Add(3 * time.Second)},
		} {
			err = db.Add(ctx, add.path, add.frames, add.seen)
			if err != nil {
				t.Fatalf("failed to add %s: %v", add.path, err)
			}
		}

		want := []Record{
			{Path: "a.png", Last: base.Add(3 * time.Second), Frames: 1, Visits: 2},
			{Path: "c.png", Last: base.Add(2 * time.Second), Frames: 1, Visits: 1},
			{Path: "b.gif", Last: base.Add(time.Second), Frames: 3, Visits: 1},
		}
		got, err := db.Recent(ctx, -1)
		if err != nil {
			t.Fatalf("failed to get recent: %v", err)
		}
		if !cmp.Equal(want, got) {
			t.Errorf("unexpected recent result:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
		}

		got, err = db.Recent(ctx, 2)
		if err != nil {
			t.Fatalf("failed to get recent: %v", err)
		}
		if !cmp.Equal(want[:2], got) {
			t.Errorf("unexpected limited recent result:\n--- want:\n+++ got:\n%s", cmp.Diff(want[:2], got))
		}

		removed, err := db.Prune(ctx, 2)
		if err != nil {
			t.Fatalf("failed to prune: %v", err)
		}
		if removed != 1 {
			t.Errorf("unexpected number of records pruned: got:%d want:1", removed)
		}
		got, err = db.Recent(ctx, -1)
		if err != nil {
			t.Fatalf("failed to get recent: %v", err)
		}
		if !cmp.Equal(want[:2], got) {
			t.Errorf("unexpected recent result after prune:\n--- want:\n+++ got:\n%s", cmp.Diff(want[:2], got))
		}

		removed, err = db.Prune(ctx, 5)
		if err != nil {
			t.Fatalf("failed to prune: %v", err)
		}
		if removed != 0 {
			t.Errorf("unexpected number of records pruned: got:%d want:0", removed)
		}

		err = db.Close()
		if err != nil {
			t.Errorf("failed to close db: %v", err)
		}

		db, err = Open(path, log)
		if err != nil {
			t.Fatalf("failed to reopen db: %v", err)
		}
		t.Cleanup(func() {
			err = db.Close()
			if err != nil {
				t.Errorf("failed to close db: %v", err)
			}
		})
		got, err = db.Recent(ctx, -1)
		if err != nil {
			t.Fatalf("failed to get recent: %v", err)
		}
		if !cmp.Equal(want[:2], got) {
			t.Errorf("unexpected recent result after reopen:\n--- want:\n+++ got:\n%s", cmp.Diff(want[:2], got))
		}
	})

	t.Run("concurrent_access", func(t *testing.T) {
		const dbPath = "test-concurrent.db"

		path := filepath.Join(workDir, dbPath)
		err = os.Remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("failed to clean dir: %v", err)
		}

		log := slog.New(slogext.NewJSONHandler(io.Discard, &slogext.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: slogext.NewAtomicBool(*lines),
		}))

		db, err := Open(path, log)
		if err != nil {
			t.Fatalf("failed to create db: %v", err)
		}
		t.Cleanup(func() {
			err = db.Close()
			if err != nil {
				t.Errorf("failed to close db: %v", err)
			}
		})

		const n = 100
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			if t.Failed() {
				break
			}
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := db.Add(ctx, fmt.Sprintf("img-%03d.png", i), 1, base.Add(time.Duration(i)*time.Second))
				if err != nil {
					t.Errorf("failed during iteration %d", i)
				}
			}()
		}
		wg.Wait()
		recs, err := db.Recent(ctx, -1)
		if err != nil {
			t.Errorf("failed to get recent: %v", err)
		}
		if len(recs) != n {
			t.Errorf("unexpected number of records: got:%d want:%d", len(recs), n)
		}
	})
}
