package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"k8s.io/apimachinery/pkg/util/wait"

	grpcmw "github.com/autopeer-io/athena/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/athena/pkg/log"
	"github.com/autopeer-io/athena/pkg/options"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "athena.v1.Athena"

const defaultPollInterval = 5 * time.Second

// ReadyFunc reports whether the process can serve. A nil error means ready.
type ReadyFunc func() error

// Server exposes the standard gRPC health service so load balancers and
// orchestrators can probe the process without speaking HTTP.
type Server struct {
	log     log.Logger
	server  *grpc.Server
	health  *health.Server
	options *options.GrpcOptions

	ready        ReadyFunc
	pollInterval time.Duration

	mu      sync.Mutex
	serving *bool
}

func NewServer(opts *options.GrpcOptions, ready ReadyFunc, logger log.Logger) *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmw.UnaryServerTimeout(opts.Timeout)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // Enable grpc_cli support

	if ready == nil {
		ready = func() error { return nil }
	}
	return &Server{
		log:          logger.WithName("grpc"),
		server:       s,
		health:       hs,
		options:      opts,
		ready:        ready,
		pollInterval: defaultPollInterval,
	}
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	s.log.Info("Starting gRPC Server", "addr", lis.Addr().String())
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	s.Refresh()
	go wait.UntilWithContext(ctx, func(context.Context) { s.Refresh() }, s.pollInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		// Probes see NOT_SERVING while in-flight calls drain.
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}

// Refresh re-evaluates readiness and publishes it to the health service.
func (s *Server) Refresh() {
	err := s.ready()
	ok := err == nil

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)

	s.mu.Lock()
	changed := s.serving == nil || *s.serving != ok
	s.serving = &ok
	s.mu.Unlock()

	if !changed {
		return
	}
	if ok {
		s.log.Info("Health status changed", "status", status.String())
	} else {
		s.log.Warn("Health status changed", "status", status.String(), "reason", err)
	}
}
