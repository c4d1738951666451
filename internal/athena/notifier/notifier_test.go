package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/log"
	pkgmqtt "github.com/autopeer-io/athena/pkg/mqtt"
	"github.com/autopeer-io/athena/pkg/mqtt/topic"
)

type published struct {
	topic   string
	qos     int
	payload []byte
}

type fakeClient struct {
	pkgmqtt.Client

	mu        sync.Mutex
	connected bool
	published []published
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(_ context.Context, t string, qos int, _ bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: t, qos: qos, payload: payload})
	return nil
}

func alertNotification() *model.Notification {
	return &model.Notification{
		ID:        "a-1",
		Audience:  model.AudienceOfficer,
		OfficerID: "o-7",
		VehicleID: "v-1",
		Event: &model.InterceptAlertGenerated{
			AlertID:   "a-1",
			OfficerID: "o-7",
			VehicleID: "v-1",
			Direction: "NE",
		},
	}
}

func TestMQTTNotifierTopics(t *testing.T) {
	client := &fakeClient{connected: true}
	n := NewMQTTNotifier(client, topic.NewBuilder("athena/v1"), 1, time.Second)
	ctx := context.Background()

	if err := n.Send(ctx, alertNotification()); err != nil {
		t.Fatal(err)
	}
	if err := n.Send(ctx, &model.Notification{
		ID:        "evt-1",
		Audience:  model.AudienceControl,
		VehicleID: "v-9",
		Critical:  true,
		Event:     &model.CriticalVehicleDetected{EventID: "evt-1", VehicleID: "v-9"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := n.Publish(ctx, &model.InterceptAlertExpired{AlertID: "a-1"}); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"athena/v1/officer/alert/o-7",
		"athena/v1/control/critical/v-9",
		"athena/v1/events/intercept_alert_expired",
	}
	if len(client.published) != len(want) {
		t.Fatalf("published %d messages, want %d", len(client.published), len(want))
	}
	for i, w := range want {
		if client.published[i].topic != w || client.published[i].qos != 1 {
			t.Errorf("message %d: topic %q qos %d, want %q", i, client.published[i].topic, client.published[i].qos, w)
		}
	}

	var env model.Envelope
	if err := json.Unmarshal(client.published[0].payload, &env); err != nil || env.Type != model.TypeInterceptAlertGenerated {
		t.Errorf("officer payload = %s (%v)", client.published[0].payload, err)
	}
	var expired model.InterceptAlertExpired
	if err := json.Unmarshal(client.published[2].payload, &expired); err != nil || expired.AlertID != "a-1" {
		t.Errorf("event payload = %s (%v)", client.published[2].payload, err)
	}
}

func TestMQTTNotifierDisconnected(t *testing.T) {
	client := &fakeClient{}
	n := NewMQTTNotifier(client, topic.NewBuilder("athena/v1"), 1, time.Second)

	if err := n.Send(context.Background(), alertNotification()); !errors.Is(err, ErrBrokerDisconnected) {
		t.Errorf("error = %v, want ErrBrokerDisconnected", err)
	}
	if len(client.published) != 0 {
		t.Errorf("published while disconnected: %+v", client.published)
	}
}

func newHubServer(t *testing.T, inbound InboundHandler) (*WebSocketHub, *httptest.Server) {
	t.Helper()

	hub := NewWebSocketHub(inbound, log.NewNopLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/officers/", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeOfficer(w, r, strings.TrimPrefix(r.URL.Path, "/ws/officers/"))
	})
	mux.HandleFunc("/ws/control", hub.ServeControl)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketHubDeliversToOfficer(t *testing.T) {
	hub, srv := newHubServer(t, nil)
	ctx := context.Background()

	if err := hub.Send(ctx, alertNotification()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("no listener: error = %v, want ErrNotConnected", err)
	}

	conn := dial(t, srv, "/ws/officers/o-7")
	waitFor(t, func() bool { n, _ := hub.Connections(); return n == 1 })

	if err := hub.Send(ctx, alertNotification()); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env model.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	var alert model.InterceptAlertGenerated
	if err := json.Unmarshal(env.Data, &alert); err != nil {
		t.Fatal(err)
	}
	if env.Type != model.TypeInterceptAlertGenerated || alert.AlertID != "a-1" || alert.Direction != "NE" {
		t.Errorf("frame = %s %+v", env.Type, alert)
	}

	// Other officers do not receive it.
	other := alertNotification()
	other.OfficerID = "o-8"
	if err := hub.Send(ctx, other); !errors.Is(err, ErrNotConnected) {
		t.Errorf("other officer: error = %v", err)
	}

	conn.Close()
	waitFor(t, func() bool { n, _ := hub.Connections(); return n == 0 })
}

func TestWebSocketHubControlAudience(t *testing.T) {
	hub, srv := newHubServer(t, nil)

	conn := dial(t, srv, "/ws/control")
	waitFor(t, func() bool { _, n := hub.Connections(); return n == 1 })

	err := hub.Send(context.Background(), &model.Notification{
		ID:        "evt-1",
		Audience:  model.AudienceControl,
		VehicleID: "v-9",
		Critical:  true,
		Event:     &model.CriticalVehicleDetected{EventID: "evt-1", VehicleID: "v-9", Plate: "KA01AB1234"},
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env model.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Type != model.TypeCriticalVehicleDetected {
		t.Errorf("type = %s", env.Type)
	}
}

func TestWebSocketHubOfficerFrames(t *testing.T) {
	received := make(chan model.InboundEvent, 4)
	_, srv := newHubServer(t, func(_ context.Context, ev model.InboundEvent) error {
		received <- ev
		return nil
	})

	conn := dial(t, srv, "/ws/officers/o-7")

	frames := []string{
		// The payload claims another officer; the connection wins.
		`{"type":"alert_acknowledged","data":{"alert_id":"a-1","officer_id":"o-999"}}`,
		`{"type":"critical_vehicle_registered","data":{"plate":"X","case_type":"STOLEN"}}`,
		`not json`,
		`{"type":"officer_location_update","data":{"location":{"latitude":12.97,"longitude":77.59},"heading":90}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}

	var got []model.InboundEvent
	for len(got) < 2 {
		select {
		case ev := <-received:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want 2", len(got))
		}
	}

	ack, ok := got[0].(*model.AlertAcknowledged)
	if !ok || ack.OfficerID != "o-7" || ack.AlertID != "a-1" {
		t.Errorf("first event = %#v", got[0])
	}
	loc, ok := got[1].(*model.OfficerLocationUpdate)
	if !ok || loc.OfficerID != "o-7" || loc.Heading != 90 {
		t.Errorf("second event = %#v", got[1])
	}
}

func TestWebSocketHubClose(t *testing.T) {
	hub, srv := newHubServer(t, nil)

	conn := dial(t, srv, "/ws/control")
	waitFor(t, func() bool { _, n := hub.Connections(); return n == 1 })

	hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read error = %v, want going away", err)
	}
	waitFor(t, func() bool { _, n := hub.Connections(); return n == 0 })
}
