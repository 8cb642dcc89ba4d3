// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides viewer configuration types, validation and
// live file watching.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// System is a complete configuration.
type System struct {
	Viewer  *Viewer  `json:"viewer,omitempty" toml:"viewer"`
	History *History `json:"history,omitempty" toml:"history"`

	Sum *Sum `json:"-" toml:"-"`
}

// Viewer is the image display configuration.
type Viewer struct {
	// Scale is the display scale factor applied before images are
	// fitted to the terminal resolution.
	Scale *float64 `json:"scale,omitempty" toml:"scale"`
	// Loop controls wrapping past the ends of the playlist.
	Loop *bool `json:"loop,omitempty" toml:"loop"`
	// Overlay controls the status strip drawn over displayed
	// images.
	Overlay *bool `json:"overlay,omitempty" toml:"overlay"`
	// Reload controls reloading of the displayed image when its
	// file changes.
	Reload    *bool       `json:"reload,omitempty" toml:"reload"`
	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`
}

// History is the viewed-image history configuration.
type History struct {
	// Enabled controls recording of viewed images.
	Enabled *bool `json:"enabled,omitempty" toml:"enabled"`
	// Path is the path to the history database. If it is empty the
	// database is stored in the user state directory.
	Path string `json:"path,omitempty" toml:"path"`
	// Limit is the maximum number of history entries retained.
	Limit *int `json:"limit,omitempty" toml:"limit"`
}

// DisplayScale returns the configured scale factor, defaulting to 1.
func (c *System) DisplayScale() float64 {
	if c == nil || c.Viewer == nil || c.Viewer.Scale == nil {
		return 1
	}
	return *c.Viewer.Scale
}

// Loop returns whether the playlist wraps, defaulting to true.
func (c *System) Loop() bool {
	if c == nil || c.Viewer == nil || c.Viewer.Loop == nil {
		return true
	}
	return *c.Viewer.Loop
}

// Overlay returns whether the status strip is drawn, defaulting to
// true.
func (c *System) Overlay() bool {
	if c == nil || c.Viewer == nil || c.Viewer.Overlay == nil {
		return true
	}
	return *c.Viewer.Overlay
}

// Reload returns whether the displayed image is reloaded on change,
// defaulting to true.
func (c *System) Reload() bool {
	if c == nil || c.Viewer == nil || c.Viewer.Reload == nil {
		return true
	}
	return *c.Viewer.Reload
}

// LogLevel returns the configured log level, defaulting to
// [slog.LevelInfo].
func (c *System) LogLevel() slog.Level {
	if c == nil || c.Viewer == nil || c.Viewer.LogLevel == nil {
		return slog.LevelInfo
	}
	return *c.Viewer.LogLevel
}

// AddSource returns whether logging records source positions,
// defaulting to false.
func (c *System) AddSource() bool {
	if c == nil || c.Viewer == nil || c.Viewer.AddSource == nil {
		return false
	}
	return *c.Viewer.AddSource
}

// HistoryEnabled returns whether viewed images are recorded,
// defaulting to true.
func (c *System) HistoryEnabled() bool {
	if c == nil || c.History == nil || c.History.Enabled == nil {
		return true
	}
	return *c.History.Enabled
}

// HistoryPath returns the configured history database path, or the
// empty string if the default location should be used.
func (c *System) HistoryPath() string {
	if c == nil || c.History == nil {
		return ""
	}
	return c.History.Path
}

// HistoryLimit returns the configured history size limit, defaulting
// to 1000.
func (c *System) HistoryLimit() int {
	if c == nil || c.History == nil || c.History.Limit == nil {
		return 1000
	}
	return *c.History.Limit
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	viewer?:  _#viewer
	history?: _#history
}

_#viewer: {
	scale?:          >0 & <=16
	loop?:           bool
	overlay?:        bool
	reload?:         bool
	log_level?:      _#log_level
	log_add_source?: bool
}

_#history: {
	enabled?: bool
	path?:    string
	limit?:   int & >=0
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Load reads, parses and validates the configuration at path. A
// missing file yields the zero configuration.
func Load(path string) (*System, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &System{}, nil
		}
		return nil, err
	}
	cfg, _, err := Unmarshal(b)
	return cfg, err
}

// Unmarshal returns the configuration held in b validated against
// Schema. The returned sum is a semantic checksum of the
// configuration, invariant under formatting and comment changes, and
// is also stored in the configuration's Sum field.
func Unmarshal(b []byte) (*System, Sum, error) {
	c := &System{}
	md, err := toml.Decode(string(b), c)
	if err != nil {
		return nil, Sum{}, err
	}
	if undec := md.Undecoded(); len(undec) != 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, Sum{}, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	_, err = Validate(Schema, c)
	if err != nil {
		return nil, Sum{}, err
	}
	sum, err := sumOf(sha1.New(), c)
	if err != nil {
		return nil, Sum{}, err
	}
	c.Sum = &sum
	return c, sum, nil
}

// sumOf returns the hash of the JSON encoding of v.
func sumOf(h hash.Hash, v any) (Sum, error) {
	h.Reset()
	err := json.NewEncoder(h).Encode(v)
	if err != nil {
		return Sum{}, err
	}
	return ([sha1.Size]byte)(h.Sum(nil)), nil
}

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
