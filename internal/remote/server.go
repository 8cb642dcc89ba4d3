// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/kortschak/jsonrpc2"

	"github.com/squibbysquibby/imv/internal/slogext"
	"github.com/squibbysquibby/imv/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that the control socket
// is created in.
const RuntimeDir = "imv"

// DefaultSocket returns the default control socket path, creating the
// socket's parent directory if it does not already exist.
func DefaultSocket() (string, error) {
	dir, err := xdg.Runtime(RuntimeDir)
	if err != nil {
		if err != syscall.ENOENT {
			return "", err
		}
		var ok bool
		dir, ok = xdg.RuntimeDir()
		if !ok {
			return "", errors.New("no xdg runtime directory")
		}
		dir = filepath.Join(dir, RuntimeDir)
		err = os.Mkdir(dir, 0o700)
		if err != nil {
			return "", fmt.Errorf("failed to create runtime directory: %w", err)
		}
	}
	return filepath.Join(dir, "imv.sock"), nil
}

// Server is a JSON RPC 2 control endpoint for a viewer.
type Server struct {
	listener *netListener
	server   *jsonrpc2.Server

	log *slog.Logger

	fMu   sync.Mutex
	funcs Funcs
}

var viewerUID = UID{Module: "imv", Service: "remote"}

// NewServer returns a new Server listening on the unix socket at path.
// Method handlers are inserted with the Funcs method.
func NewServer(ctx context.Context, path string, options jsonrpc2.NetListenOptions, log *slog.Logger) (*Server, error) {
	s := Server{
		funcs: make(Funcs),
		log:   log.With(slog.String("component", viewerUID.String())),
	}
	var err error
	s.listener, err = newNetListener(ctx, "unix", path, options)
	if err != nil {
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelDebug, "new control server", slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Funcs is a mapping from method names to insertable functions. A name with
// a nil function removes the mapping.
//
// If the ID is valid, the function must return either a non-nil, JSON-marshalable
// result, or a non-nil error. If it is not valid, the functions must return a nil
// result.
type Funcs map[string]func(context.Context, jsonrpc2.ID, json.RawMessage) (*Message[any], error)

// Funcs inserts the provided functions into the server's handler. If funcs is
// nil the entire mapping table is reset.
func (s *Server) Funcs(funcs Funcs) {
	s.fMu.Lock()
	defer s.fMu.Unlock()
	if funcs == nil {
		s.funcs = make(Funcs)
		return
	}
	for name, fn := range funcs {
		if fn != nil {
			s.funcs[name] = fn
		} else {
			delete(s.funcs, name)
		}
	}
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle is the server's message handler.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))

	s.fMu.Lock()
	fn, ok := s.funcs[req.Method]
	s.fMu.Unlock()
	if !ok {
		return nil, jsonrpc2.ErrNotHandled
	}

	res, err := fn(ctx, req.ID, req.Params)
	var ret any
	// Convert *Message[any] to any without type if nil.
	if res != nil {
		ret = res
	}
	if !req.IsCall() {
		if ret != nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "dropping func result", slog.String("method", req.Method), slog.Any("result", ret))
		}
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "func notify error", slog.String("method", req.Method), slog.Any("error", err))
		}
		return nil, err
	}
	if err != nil {
		ret = nil
	} else if ret == nil {
		// Make sure a call has a return if there is no error.
		ret = NewMessage(viewerUID, "ok")
	}
	return ret, err
}

// Close closes the server. The control socket is removed by the closing
// of the server's listener.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	return s.server.Wait()
}

// Dial returns a new connection to the control server listening on the unix
// socket at path. The connection must be closed by the caller after use.
func Dial(ctx context.Context, path string, dialer net.Dialer) (*jsonrpc2.Connection, error) {
	return jsonrpc2.Dial(ctx, jsonrpc2.NetDialer("unix", path, dialer), jsonrpc2.ConnectionOptions{})
}
