// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdg

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

var envOrDefaultTests = []struct {
	set map[string]string

	key, def, home string

	want   string
	wantOK bool
}{
	0: {
		set: map[string]string{
			"test_HOME": "testdata/home",
			"testkey":   "testdata/home/dir",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/dir",
		wantOK: true,
	},
	1: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/testdata/global_dir",
		wantOK: true,
	},
	2: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "",
		home: "test_HOME",

		want:   "",
		wantOK: false,
	},
	3: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "",

		want:   "testdata/global_dir",
		wantOK: true,
	},
	4: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "invalid",

		want:   "",
		wantOK: false,
	},
}

func TestEnvOrDefault(t *testing.T) {
	for i, test := range envOrDefaultTests {
		for k, v := range test.set {
			if _, ok := os.LookupEnv(k); ok {
				panic(fmt.Sprintf("already set in env: %s", k))
			}
			if k == "test_HOME" && test.home == "" {
				continue
			}
			os.Setenv(k, v)
		}

		got, gotOK := envOrDefault(test.key, test.def, test.home)
		if gotOK != test.wantOK {
			t.Errorf("unexpected ok for %d: got:%t want:%t", i, gotOK, test.wantOK)
		}
		if got != test.want {
			t.Errorf("unexpected result for %d: got:%q want:%q", i, got, test.want)
		}

		for k := range test.set {
			os.Unsetenv(k)
		}
	}
}

func TestFind(t *testing.T) {
	home := t.TempDir()
	err := os.MkdirAll(filepath.Join(home, "local"), 0o755)
	if err != nil {
		t.Fatalf("unexpected error creating home: %v", err)
	}
	err = os.WriteFile(filepath.Join(home, "local", "present"), nil, 0o644)
	if err != nil {
		t.Fatalf("unexpected error creating file: %v", err)
	}
	global := t.TempDir()
	err = os.WriteFile(filepath.Join(global, "fallback"), nil, 0o644)
	if err != nil {
		t.Fatalf("unexpected error creating file: %v", err)
	}
	t.Setenv("test_HOME", home)
	t.Setenv("testkey_local", filepath.Join(home, "local"))
	t.Setenv("testkey_global", global)

	findTests := []struct {
		name  string
		local bool

		want    string
		wantErr error
	}{
		{name: "present", local: true, want: filepath.Join(home, "local", "present")},
		{name: "absent", local: true, wantErr: syscall.ENOENT},
		{name: "fallback", local: true, wantErr: syscall.ENOENT},
		{name: "fallback", local: false, want: filepath.Join(global, "fallback")},
	}
	for _, test := range findTests {
		got, err := find(test.name, "testkey_local", "", "testkey_global", "", "test_HOME", test.local)
		if err != test.wantErr {
			t.Errorf("unexpected error for %q local=%t: got:%v want:%v", test.name, test.local, err, test.wantErr)
		}
		if got != test.want {
			t.Errorf("unexpected result for %q local=%t: got:%q want:%q", test.name, test.local, got, test.want)
		}
	}
}
