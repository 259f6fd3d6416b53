package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrDaemonRunning is returned when another daemon answers on the socket
var ErrDaemonRunning = errors.New("daemon already running")

// HandlerFunc answers one request
type HandlerFunc func(ctx context.Context, req DaemonRequest) DaemonResponse

// Server accepts clients on a unix socket. Requests on one connection are
// answered in order.
type Server struct {
	path     string
	handle   HandlerFunc
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Listen binds the socket at path. A stale socket file left by a crashed
// daemon is removed; a live one is an error.
func Listen(path string, handle HandlerFunc) (*Server, error) {
	if err := prepareSocket(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	slog.Info("IPC socket listening", "path", path)
	return &Server{
		path:     path,
		handle:   handle,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func prepareSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w on %s", ErrDaemonRunning, path)
	}

	slog.Debug("Removing stale socket", "path", path)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

// Path returns the socket path
func (s *Server) Path() string {
	return s.path
}

// Serve accepts connections until ctx is cancelled, then closes every
// client and removes the socket file
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()

		// expire reads rather than closing, so a reply being written
		// still reaches its client
		s.mu.Lock()
		for conn := range s.conns {
			conn.SetReadDeadline(time.Now())
		}
		s.mu.Unlock()
	}()

	defer func() {
		s.wg.Wait()
		os.Remove(s.path)
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept client: %w", err)
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		if ctx.Err() != nil {
			conn.SetReadDeadline(time.Now())
		}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	slog.Debug("IPC client connected")
	codec := NewCodec(conn)
	for {
		var req Request
		if err := codec.Read(&req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Debug("Closing IPC client", "error", err)
			}
			return
		}

		resp := s.handle(ctx, req.Data)
		if err := codec.Write(Response{ID: req.ID, Data: resp}); err != nil {
			slog.Debug("Failed to reply to IPC client", "error", err)
			return
		}
	}
}
