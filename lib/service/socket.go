// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package service

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

	"github.com/wattwatch/wattwatch/lib/codec"
	"github.com/wattwatch/wattwatch/lib/netutil"
)

const (
	// readTimeout bounds the wait for a client's request after it
	// connects.
	readTimeout = 10 * time.Second

	writeTimeout = 10 * time.Second

	// maxRequestSize bounds one CBOR request. Today's actions carry
	// no parameters.
	maxRequestSize = 64 * 1024
)

// ActionFunc answers one request. raw is the whole CBOR request,
// "action" field included, for handlers that take parameters. A nil
// result gives {ok: true}; anything else is CBOR-encoded into the
// response's data field. A non-nil error becomes {ok: false} carrying
// the error text.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope written back for every request.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer answers CBOR requests on a Unix socket, one request per
// connection: the client writes a CBOR map with an "action" key, reads
// one Response, and the server hangs up.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// connections counts handlers still running; Serve waits for
	// them before it returns.
	connections sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSocketServer returns a server for socketPath. Register actions
// with Handle before Serve. A nil logger means slog.Default().
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once Serve is accepting connections.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Handle registers handler for action. Registering an action twice
// panics. Handle must not be called once Serve has started.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve listens on the socket until ctx is cancelled, then waits for
// in-progress requests and returns. It creates the socket's directory,
// replaces a stale socket file left by an earlier run, and removes the
// socket on return. Handlers receive ctx.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)
	defer listener.Close()

	stopAccepting := context.AfterFunc(ctx, func() { listener.Close() })
	defer stopAccepting()

	s.logger.Info("status socket listening", "path", s.socketPath)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.serveConnection(ctx, conn)
		}()
	}

	s.connections.Wait()
	return nil
}

func (s *SocketServer) serveConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	// CBOR values are self-delimiting, so one Decode reads exactly the
	// request.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if netutil.IsExpectedCloseError(err) {
			return
		}
		s.respond(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	result, err := s.dispatch(ctx, raw)
	if err != nil {
		s.respond(conn, Response{Error: err.Error()})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.respond(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.respond(conn, response)
}

// dispatch routes raw to the handler named by its "action" field.
func (s *SocketServer) dispatch(ctx context.Context, raw codec.RawMessage) (any, error) {
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("invalid request: %v", err)
	}
	if header.Action == "" {
		return nil, errors.New("missing required field: action")
	}
	handler, exists := s.handlers[header.Action]
	if !exists {
		return nil, fmt.Errorf("unknown action %q", header.Action)
	}

	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		return nil, err
	}
	return result, nil
}

// respond writes response. The connection closes right after, so a
// failed write is only worth a debug line.
func (s *SocketServer) respond(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil && !netutil.IsExpectedCloseError(err) {
		s.logger.Debug("writing response failed", "error", err)
	}
}
