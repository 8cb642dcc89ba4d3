// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"crypto/sha1"
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func ptr[T any](v T) *T { return &v }

var unmarshalTests = []struct {
	name    string
	data    string
	want    *System
	wantErr error
}{
	{
		name: "empty",
		data: "",
		want: &System{},
	},
	{
		name: "full",
		data: `
[viewer]
scale = 1.5
loop = false
overlay = true
reload = false
log_level = "debug"
log_add_source = true

[history]
enabled = true
path = "/tmp/view.db"
limit = 100
`,
		want: &System{
			Viewer: &Viewer{
				Scale:     ptr(1.5),
				Loop:      ptr(false),
				Overlay:   ptr(true),
				Reload:    ptr(false),
				LogLevel:  ptr(slog.LevelDebug),
				AddSource: ptr(true),
			},
			History: &History{
				Enabled: ptr(true),
				Path:    "/tmp/view.db",
				Limit:   ptr(100),
			},
		},
	},
	{
		name: "partial",
		data: "[viewer]\nloop = false\n",
		want: &System{
			Viewer: &Viewer{Loop: ptr(false)},
		},
	},
	{
		name:    "unknown_key",
		data:    "[viewer]\ncolour = \"red\"\n",
		wantErr: errors.New("unknown configuration keys: viewer.colour"),
	},
}

func TestUnmarshal(t *testing.T) {
	ignoreSum := cmpopts.IgnoreFields(System{}, "Sum")
	for _, test := range unmarshalTests {
		t.Run(test.name, func(t *testing.T) {
			got, sum, err := Unmarshal([]byte(test.data))
			if !sameError(err, test.wantErr) {
				t.Errorf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if !got.Sum.Equal(&sum) {
				t.Errorf("stored sum does not match returned sum: %s != %s", got.Sum, &sum)
			}
			if !cmp.Equal(test.want, got, ignoreSum) {
				t.Errorf("unexpected configuration:\n--- want:\n+++ got:\n%s",
					cmp.Diff(test.want, got, ignoreSum))
			}
		})
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		// Unclosed table header.
		{name: "syntax", data: "[viewer\n"},
		// Valid TOML rejected by the schema.
		{name: "scale_bound", data: "[viewer]\nscale = 20.0\n"},
		{name: "negative_limit", data: "[history]\nlimit = -1\n"},
		// Rejected by slog.Level's text unmarshaling.
		{name: "log_level", data: "[viewer]\nlog_level = \"chatty\"\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, _, err := Unmarshal([]byte(test.data))
			if err == nil {
				t.Error("expected error for invalid configuration")
			}
			if cfg != nil {
				t.Errorf("unexpected non-nil configuration: %+v", cfg)
			}
		})
	}
}

func TestSumStability(t *testing.T) {
	const (
		formatted   = "# viewer configuration\n[viewer]\nscale = 1.5\nloop = true\n"
		reformatted = "[viewer]\n\nloop  =  true\nscale = 1.5\n"
		altered     = "[viewer]\nscale = 2.5\nloop = true\n"
	)
	_, a, err := Unmarshal([]byte(formatted))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, b, err := Unmarshal([]byte(reformatted))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, c, err := Unmarshal([]byte(altered))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Equal(&b) {
		t.Errorf("formatting changed sum: %s != %s", &a, &b)
	}
	if a.Equal(&c) {
		t.Errorf("semantic change did not change sum: %s", &a)
	}
}

func TestAccessorDefaults(t *testing.T) {
	for _, cfg := range []*System{nil, {}, {Viewer: &Viewer{}, History: &History{}}} {
		if got := cfg.DisplayScale(); got != 1 {
			t.Errorf("unexpected default scale: got:%v want:1", got)
		}
		if !cfg.Loop() {
			t.Error("unexpected default loop: got:false want:true")
		}
		if !cfg.Overlay() {
			t.Error("unexpected default overlay: got:false want:true")
		}
		if !cfg.Reload() {
			t.Error("unexpected default reload: got:false want:true")
		}
		if got := cfg.LogLevel(); got != slog.LevelInfo {
			t.Errorf("unexpected default log level: got:%v want:%v", got, slog.LevelInfo)
		}
		if cfg.AddSource() {
			t.Error("unexpected default add_source: got:true want:false")
		}
		if !cfg.HistoryEnabled() {
			t.Error("unexpected default history enabled: got:false want:true")
		}
		if got := cfg.HistoryPath(); got != "" {
			t.Errorf("unexpected default history path: got:%q want:\"\"", got)
		}
		if got := cfg.HistoryLimit(); got != 1000 {
			t.Errorf("unexpected default history limit: got:%d want:1000", got)
		}
	}
}

func TestAccessorValues(t *testing.T) {
	cfg := &System{
		Viewer: &Viewer{
			Scale:     ptr(2.0),
			Loop:      ptr(false),
			Overlay:   ptr(false),
			Reload:    ptr(false),
			LogLevel:  ptr(slog.LevelError),
			AddSource: ptr(true),
		},
		History: &History{
			Enabled: ptr(false),
			Path:    "/tmp/view.db",
			Limit:   ptr(5),
		},
	}
	if got := cfg.DisplayScale(); got != 2 {
		t.Errorf("unexpected scale: got:%v want:2", got)
	}
	if cfg.Loop() || cfg.Overlay() || cfg.Reload() {
		t.Errorf("unexpected viewer flags: loop:%t overlay:%t reload:%t want all false",
			cfg.Loop(), cfg.Overlay(), cfg.Reload())
	}
	if got := cfg.LogLevel(); got != slog.LevelError {
		t.Errorf("unexpected log level: got:%v want:%v", got, slog.LevelError)
	}
	if !cfg.AddSource() {
		t.Error("unexpected add_source: got:false want:true")
	}
	if cfg.HistoryEnabled() {
		t.Error("unexpected history enabled: got:true want:false")
	}
	if got := cfg.HistoryPath(); got != "/tmp/view.db" {
		t.Errorf("unexpected history path: got:%q", got)
	}
	if got := cfg.HistoryLimit(); got != 5 {
		t.Errorf("unexpected history limit: got:%d want:5", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(dir, "none.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cmp.Equal(&System{}, cfg) {
			t.Errorf("unexpected configuration for missing file:\n%s",
				cmp.Diff(&System{}, cfg))
		}
	})

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "config.toml")
		err := os.WriteFile(path, []byte("[viewer]\nscale = 1.5\n"), 0o644)
		if err != nil {
			t.Fatalf("unexpected error writing config: %v", err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := cfg.DisplayScale(); got != 1.5 {
			t.Errorf("unexpected scale: got:%v want:1.5", got)
		}
		if cfg.Sum == nil {
			t.Error("missing configuration sum")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.toml")
		err := os.WriteFile(path, []byte("[viewer]\ncolour = \"red\"\n"), 0o644)
		if err != nil {
			t.Fatalf("unexpected error writing config: %v", err)
		}
		_, err = Load(path)
		if err == nil {
			t.Error("expected error for invalid configuration")
		}
	})
}

func TestSumText(t *testing.T) {
	sum := rawSum(sha1.New(), []byte("glenelg"))
	text, err := sum.MarshalText()
	if err != nil {
		t.Fatalf("unexpected error marshaling sum: %v", err)
	}
	var got Sum
	err = got.UnmarshalText(text)
	if err != nil {
		t.Fatalf("unexpected error unmarshaling sum: %v", err)
	}
	if got != sum {
		t.Errorf("unexpected sum: got:%s want:%s", &got, &sum)
	}
	err = got.UnmarshalText([]byte("deadbeef"))
	if err == nil {
		t.Error("expected error for short sum text")
	}
}
