package mqtt

import (
	"context"
)

// MessageHandler receives one inbound message. The topic segment decides
// which event type the payload is decoded into.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the broker connection used by the ingress server, the alert
// notifier and the simulator. Tests substitute an in-memory fake.
type Client interface {
	// Start connects in the background and returns immediately.
	Start(ctx context.Context) error

	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for the filter. Subscriptions survive
	// reconnects.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the broker has accepted the connection.
	AwaitConnection(ctx context.Context) error

	// IsConnected backs the readiness checks.
	IsConnected() bool
}
