package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/autopeer-io/athena/pkg/log"
	"github.com/autopeer-io/athena/pkg/options"
)

func TestHealthFollowsReadiness(t *testing.T) {
	var down atomic.Bool
	srv := NewServer(options.NewGrpcOptions(), func() error {
		if down.Load() {
			return errors.New("broker disconnected")
		}
		return nil
	}, log.NewNopLogger())
	srv.pollInterval = time.Hour

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("check %q: %v", service, err)
		}
		return resp.GetStatus()
	}

	for _, svc := range []string{"", ServiceName} {
		if got := check(svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("%q = %v, want SERVING", svc, got)
		}
	}

	down.Store(true)
	srv.Refresh()
	if got := check(ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after failure = %v, want NOT_SERVING", got)
	}

	down.Store(false)
	srv.Refresh()
	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after recovery = %v, want SERVING", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNilReadyIsAlwaysServing(t *testing.T) {
	srv := NewServer(options.NewGrpcOptions(), nil, log.NewNopLogger())
	srv.Refresh()
	if srv.serving == nil || !*srv.serving {
		t.Error("server without readiness checks is not serving")
	}
}
