package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/pkg/mqtt/paths"
	pkgmqtt "github.com/autopeer-io/athena/pkg/mqtt"
	"github.com/autopeer-io/athena/pkg/mqtt/topic"
)

var (
	_ core.Channel        = (*MQTTNotifier)(nil)
	_ core.EventPublisher = (*MQTTNotifier)(nil)
)

// ErrBrokerDisconnected fails a send fast instead of blocking a dispatch
// worker until the broker comes back.
var ErrBrokerDisconnected = errors.New("mqtt broker disconnected")

// MQTTNotifier publishes outbound events and serves as the MQTT delivery
// channel. It uses the egress connection, separate from ingress.
type MQTTNotifier struct {
	client  pkgmqtt.Client
	topics  *topic.Builder
	qos     int
	timeout time.Duration
}

func NewMQTTNotifier(client pkgmqtt.Client, topics *topic.Builder, qos int, timeout time.Duration) *MQTTNotifier {
	return &MQTTNotifier{
		client:  client,
		topics:  topics,
		qos:     qos,
		timeout: timeout,
	}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

// Send publishes the notification's event, framed in an Envelope, to the
// officer alert topic or the control topic.
func (n *MQTTNotifier) Send(ctx context.Context, msg *model.Notification) error {
	var t string
	switch msg.Audience {
	case model.AudienceOfficer:
		t = n.topics.Build(paths.OfficerAlert, msg.OfficerID)
	case model.AudienceControl:
		t = n.topics.Build(paths.ControlCritical, msg.VehicleID)
	default:
		return fmt.Errorf("unknown audience %q", msg.Audience)
	}

	payload, err := model.EncodeOutbound(msg.Event)
	if err != nil {
		return err
	}
	return n.publish(ctx, t, payload)
}

// Publish sends e to {root}/events/{type}. The topic names the type, so the
// payload is the bare event.
func (n *MQTTNotifier) Publish(ctx context.Context, e model.OutboundEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	return n.publish(ctx, n.topics.Build(paths.Events, string(e.EventType())), payload)
}

func (n *MQTTNotifier) publish(ctx context.Context, t string, payload []byte) error {
	if !n.client.IsConnected() {
		return ErrBrokerDisconnected
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if err := n.client.Publish(ctx, t, n.qos, false, payload); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	return nil
}
