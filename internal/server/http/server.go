package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"devconsole/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Server runs the API until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// NewServer binds handler to addr.
func NewServer(addr string, handler http.Handler, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		logger: logging.OrNop(logger),
	}
}

// Run listens on the configured address and shuts down gracefully when ctx
// is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Long-lived websocket streams follow ctx; Shutdown does not close them.
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", ln.Addr())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
