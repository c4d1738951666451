package grpc

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
)

func TestUnaryServerTimeout(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	tests := []struct {
		name     string
		ctx      func() (context.Context, context.CancelFunc)
		timeout  time.Duration
		wantLeft time.Duration
	}{
		{
			name:     "no deadline gets the configured timeout",
			ctx:      func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			timeout:  2 * time.Second,
			wantLeft: 2 * time.Second,
		},
		{
			name:     "non-positive timeout uses the default",
			ctx:      func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			timeout:  0,
			wantLeft: DefaultRPCTimeout,
		},
		{
			name: "existing deadline is kept",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), time.Hour)
			},
			timeout:  time.Second,
			wantLeft: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.ctx()
			defer cancel()

			var left time.Duration
			_, err := UnaryServerTimeout(tt.timeout)(ctx, nil, info, func(ctx context.Context, req any) (any, error) {
				deadline, ok := ctx.Deadline()
				if !ok {
					t.Fatal("handler context has no deadline")
				}
				left = time.Until(deadline)
				return nil, nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if left > tt.wantLeft || left < tt.wantLeft-time.Second {
				t.Errorf("remaining = %v, want about %v", left, tt.wantLeft)
			}
		})
	}
}
