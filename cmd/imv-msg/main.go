// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The imv-msg command sends control messages to a running imv viewer.
//
//	imv-msg [options] <method> [arg]
//
// Supported methods are next, prev, open, pause, resume, status and quit.
// The open method takes the path of the image to display as its argument.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/squibbysquibby/imv/internal/remote"
	"github.com/squibbysquibby/imv/internal/version"
)

var uid = remote.UID{Module: "imv-msg"}

func main() {
	sock := flag.String("sock", "", "control socket path (default $XDG_RUNTIME_DIR/imv/imv.sock)")
	timeout := flag.Duration("timeout", 5*time.Second, "communication timeout")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %[1]s:\n\n  %[1]s [options] <method> [arg]\n\nSupported methods are next, prev, open <path>, pause, resume, status\nand quit.\n\n", os.Args[0])
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

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	method := args[0]
	var params any
	switch method {
	case remote.Next, remote.Prev, remote.Pause, remote.Resume, remote.Status, remote.Quit:
		if len(args) != 1 {
			flag.Usage()
			os.Exit(2)
		}
		params = remote.NewMessage(uid, remote.None{})
	case remote.Open:
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		// The viewer resolves relative paths against its own working
		// directory, so send an absolute path.
		path, err := filepath.Abs(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		params = remote.NewMessage(uid, remote.OpenBody{Path: path})
	default:
		fmt.Fprintf(os.Stderr, "unknown method: %s\n", method)
		os.Exit(2)
	}

	if *sock == "" {
		var err error
		*sock, err = remote.DefaultSocket()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := remote.Dial(ctx, *sock, net.Dialer{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial viewer at %s: %v\n", *sock, err)
		os.Exit(1)
	}
	defer conn.Close()

	if method == remote.Quit {
		err = conn.Notify(ctx, method, params)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	var resp json.RawMessage
	err = conn.Call(ctx, method, params).Await(ctx, &resp)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var buf bytes.Buffer
	err = json.Indent(&buf, resp, "", "\t")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(&buf)
}
