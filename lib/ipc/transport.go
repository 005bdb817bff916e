// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/warden/lib/codec"
)

// DefaultCallTimeout bounds a client call when the caller's context
// carries no deadline. Intent calls run a whole session, so the bound
// is generous.
const DefaultCallTimeout = 5 * time.Minute

// Handler processes one request. Implementations must be safe for
// concurrent use; the server runs one goroutine per connection.
type Handler func(ctx context.Context, req Request) Response

// Server serves the control protocol on a Unix socket.
type Server struct {
	listener *net.UnixListener
	handler  Handler
	logger   *slog.Logger
}

// Listen binds the control socket, replacing a stale socket file left
// by a dead process.
func Listen(path string, handler Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket mode: %w", err)
	}
	return &Server{listener: listener, handler: handler, logger: logger}, nil
}

// Serve accepts connections until ctx is cancelled. Each connection
// carries exactly one request and one response.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

// Close closes the listener.
func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := codec.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.Warn("malformed control request", "error", err)
		return
	}
	resp := s.handler(ctx, req)
	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("control response write failed",
			"action", req.Action, "error", err)
	}
}

// Call connects to the daemon socket, sends one request, and returns
// the response. The context bounds the whole exchange.
func Call(ctx context.Context, socketPath string, req Request) (Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
