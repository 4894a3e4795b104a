package dap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/ctagard/sdb-dap/internal/logging"
	"github.com/ctagard/sdb-dap/internal/sdb"
)

// Server creates one Session per front-end connection. Every session gets
// its own runtime from the manager.
type Server struct {
	manager *sdb.Manager
	opts    SessionOptions
	logger  *slog.Logger
}

// NewServer creates a server backed by manager
func NewServer(manager *sdb.Manager, opts SessionOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{manager: manager, opts: opts, logger: logger}
}

// ServeConn runs a session over conn until the front end goes away
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriteCloser) error {
	session, err := s.manager.Create()
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() {
		_ = s.manager.Terminate(session.ID)
	}()

	logger := s.logger.With("session_id", session.ID)
	logger.Info("DAP session started")
	defer logger.Info("DAP session ended")

	return NewSession(NewTransport(conn), session.Runtime, s.opts, logger).Serve(ctx)
}

// ServeStdio runs a single session over the process's standard streams
func (s *Server) ServeStdio(ctx context.Context, stdin io.ReadCloser, stdout io.WriteCloser) error {
	return s.ServeConn(ctx, &stdioRWC{reader: stdin, writer: stdout})
}

// ListenAndServe accepts front-end connections on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Listening for DAP clients", "addr", ln.Addr().String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			s.logger.Debug("Accepted DAP client", "remote", conn.RemoteAddr().String())
			g.Go(func() error {
				if err := s.ServeConn(gctx, conn); err != nil {
					s.logger.Warn("DAP session failed", "remote", conn.RemoteAddr().String(), "error", err)
				}
				return nil
			})
		}
	})
	return g.Wait()
}
