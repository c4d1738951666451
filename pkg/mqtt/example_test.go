package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/athena/pkg/log"
	"github.com/autopeer-io/athena/pkg/mqtt"
	"github.com/autopeer-io/athena/pkg/mqtt/topic"
)

// ExampleClient shows the usual lifecycle: configure, start, subscribe,
// wait for the connection, publish and disconnect.
func ExampleClient() {
	// In the server these values come from pkg/options.
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "athena-example",
		Username:       "admin",
		Password:       "public",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		CleanStart:     true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; connecting and reconnecting happen in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	topics := topic.NewBuilder("athena/v1")

	// Handlers run on their own goroutine. Subscriptions survive reconnects.
	sub := topics.Shared("athena").BuildWildcard("identification")
	if err := client.Subscribe(ctx, sub, 1, func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("Received message on topic %s: %s\n", topic, string(payload))
	}); err != nil {
		log.Error(err, "Failed to subscribe", "topic", sub)
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	pub := topics.Build("identification", "cam-17")
	payload := []byte(`{"plate": "KA01AB1234", "camera_id": "cam-17"}`)
	if err := client.Publish(ctx, pub, 1, false, payload); err != nil {
		log.Error(err, "Failed to publish message", "topic", pub)
	}

	client.Disconnect(ctx)
}
