package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// CreateServer wraps handler in an http.Server with production timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts the HTTP server
// down and closes every WebSocket connection, each bounded by timeout.
func (s *Server) ListenAndServe(ctx context.Context, timeout time.Duration) error {
	httpServer := CreateServer(s.opts.Addr, s.Routes())

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpErr := httpServer.Shutdown(shutdownCtx)
	hubErr := s.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}
