package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/autopeer-io/athena/pkg/log"
	"github.com/autopeer-io/athena/pkg/options"
)

// Server serves the REST API, the WebSocket channels, metrics and probes.
type Server struct {
	log     log.Logger
	server  *http.Server
	options *options.HttpOptions
}

func NewServer(opts *options.HttpOptions, handler http.Handler, logger log.Logger) *Server {
	return &Server{
		log: logger.WithName("http"),
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: opts.Timeout,
			// WriteTimeout would cut long-lived WebSocket connections; the
			// router bounds REST handlers instead.
			IdleTimeout: 2 * opts.Timeout,
		},
		options: opts,
	}
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	s.log.Info("Starting HTTP Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.options.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// OnShutdown registers f to run when shutdown begins. Hijacked connections
// such as WebSockets are not closed by Shutdown itself.
func (s *Server) OnShutdown(f func()) {
	s.server.RegisterOnShutdown(f)
}
