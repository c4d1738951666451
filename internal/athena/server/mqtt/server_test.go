package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/athena/core/service"
	"github.com/autopeer-io/athena/internal/pkg/mqtt/adapter"
	"github.com/autopeer-io/athena/pkg/log"
	pkgmqtt "github.com/autopeer-io/athena/pkg/mqtt"
	"github.com/autopeer-io/athena/pkg/mqtt/topic"
)

type fakeClient struct {
	pkgmqtt.Client

	mu           sync.Mutex
	subs         map[string]pkgmqtt.MessageHandler
	retained     map[string][]byte
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: map[string]pkgmqtt.MessageHandler{}, retained: map[string][]byte{}}
}

func (c *fakeClient) Start(context.Context) error           { return nil }
func (c *fakeClient) AwaitConnection(context.Context) error { return nil }
func (c *fakeClient) IsConnected() bool                     { return true }

func (c *fakeClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Subscribe(_ context.Context, t string, _ int, h pkgmqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[t] = h
	return nil
}

func (c *fakeClient) Publish(_ context.Context, t string, _ int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if retain {
		c.retained[t] = payload
	}
	return nil
}

func (c *fakeClient) filters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for f := range c.subs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

type recordingHandler struct {
	mu     sync.Mutex
	events []model.InboundEvent
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, ev model.InboundEvent) (*service.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return &service.Result{}, h.err
}

func (h *recordingHandler) last() model.InboundEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return nil
	}
	return h.events[len(h.events)-1]
}

func newServer(h EventHandler) *Server {
	return NewServer(newFakeClient(), topic.NewBuilder("athena/v1"), "athena", 1, "", h, log.NewNopLogger())
}

func TestStartSubscribesSharedAndPublishesStatus(t *testing.T) {
	client := newFakeClient()
	srv := NewServer(client, topic.NewBuilder("athena/v1"), "athena", 1, "athena/v1/status/athena-a",
		&recordingHandler{}, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(client.filters()) < 6 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriptions = %v", client.filters())
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := []string{
		"$share/athena/athena/v1/alert/ack/+",
		"$share/athena/athena/v1/identification/+",
		"$share/athena/athena/v1/officer/location/+",
		"$share/athena/athena/v1/vehicle/register/+",
		"$share/athena/athena/v1/vehicle/status/+",
		"$share/athena/athena/v1/violation/+",
	}
	got := client.filters()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("filter %d = %q, want %q", i, got[i], want[i])
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.disconnected {
		t.Error("client not disconnected on shutdown")
	}
	var status struct{ Status string }
	if err := json.Unmarshal(client.retained["athena/v1/status/athena-a"], &status); err != nil || status.Status != "offline" {
		t.Errorf("final status = %s (%v)", client.retained["athena/v1/status/athena-a"], err)
	}
}

func TestHandlersTakeIDsFromTopic(t *testing.T) {
	h := &recordingHandler{}
	handlers := newServer(h).Handlers()
	ctx := context.Background()

	tests := []struct {
		name    string
		segment string
		topic   string
		payload string
		check   func(t *testing.T, ev model.InboundEvent)
	}{
		{
			name:    "identification camera from topic",
			segment: "identification",
			topic:   "athena/v1/identification/cam-17",
			payload: `{"plate":"KA01AB1234","location":{"latitude":12.97,"longitude":77.59}}`,
			check: func(t *testing.T, ev model.InboundEvent) {
				e := ev.(*model.VehicleIdentified)
				if e.CameraID != "cam-17" || e.Plate != "KA01AB1234" {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name:    "identification keeps payload camera",
			segment: "identification",
			topic:   "athena/v1/identification/cam-17",
			payload: `{"plate":"KA01AB1234","camera_id":"cam-9"}`,
			check: func(t *testing.T, ev model.InboundEvent) {
				if e := ev.(*model.VehicleIdentified); e.CameraID != "cam-9" {
					t.Errorf("camera = %q", e.CameraID)
				}
			},
		},
		{
			name:    "officer location topic wins",
			segment: "officer/location",
			topic:   "athena/v1/officer/location/o-7",
			payload: `{"officer_id":"o-999","location":{"latitude":12.97,"longitude":77.59},"heading":90}`,
			check: func(t *testing.T, ev model.InboundEvent) {
				if e := ev.(*model.OfficerLocationUpdate); e.OfficerID != "o-7" || e.Heading != 90 {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name:    "vehicle status",
			segment: "vehicle/status",
			topic:   "athena/v1/vehicle/status/v-1",
			payload: `{"new_status":"RESOLVED"}`,
			check: func(t *testing.T, ev model.InboundEvent) {
				e := ev.(*model.VehicleStatusChanged)
				if e.VehicleID != "v-1" || e.NewStatus != model.VehicleResolved {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name:    "vehicle register",
			segment: "vehicle/register",
			topic:   "athena/v1/vehicle/register/v-2",
			payload: `{"plate":"MH12XY9999","case_type":"STOLEN"}`,
			check: func(t *testing.T, ev model.InboundEvent) {
				if e := ev.(*model.CriticalVehicleRegistered); e.VehicleID != "v-2" {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name:    "alert ack",
			segment: "alert/ack",
			topic:   "athena/v1/alert/ack/o-7",
			payload: `{"alert_id":"a-1"}`,
			check: func(t *testing.T, ev model.InboundEvent) {
				e := ev.(*model.AlertAcknowledged)
				if e.OfficerID != "o-7" || e.AlertID != "a-1" {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name:    "violation registered",
			segment: "violation",
			topic:   "athena/v1/violation/KA05MN4321",
			payload: `{"violation_type":"UNPAID_FINE"}`,
			check: func(t *testing.T, ev model.InboundEvent) {
				e := ev.(*model.ViolationVehicleRegistered)
				if e.Plate != "KA05MN4321" || e.ViolationType != model.ViolationUnpaidFine {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name:    "violation cleared",
			segment: "violation",
			topic:   "athena/v1/violation/KA05MN4321",
			payload: ``,
			check: func(t *testing.T, ev model.InboundEvent) {
				if e := ev.(*model.ViolationVehicleRemoved); e.Plate != "KA05MN4321" {
					t.Errorf("event = %+v", e)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := handlers[tt.segment](ctx, tt.topic, []byte(tt.payload)); err != nil {
				t.Fatal(err)
			}
			tt.check(t, h.last())
		})
	}
}

func TestHandlerErrors(t *testing.T) {
	rejected := errors.New("rejected")
	h := &recordingHandler{err: rejected}
	handlers := newServer(h).Handlers()
	ctx := context.Background()

	if err := handlers["alert/ack"](ctx, "athena/v1/alert/ack/o-7", []byte(`{"alert_id":"a-1"}`)); !errors.Is(err, rejected) {
		t.Errorf("service error not returned: %v", err)
	}
	if err := handlers["identification"](ctx, "athena/v1/identification/cam-1", nil); !errors.Is(err, adapter.ErrEmptyPayload) {
		t.Errorf("empty identification: %v", err)
	}
	if err := handlers["officer/location"](ctx, "athena/v1/officer/location/a/b", []byte(`{}`)); err == nil {
		t.Error("nested topic id accepted")
	}
	if n := len(h.events); n != 1 {
		t.Errorf("handled %d events, want 1", n)
	}
}

func TestStatusPayload(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var got struct {
		Status string    `json:"status"`
		At     time.Time `json:"at"`
	}
	if err := json.Unmarshal(StatusPayload(true, at), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "online" || !got.At.Equal(at) {
		t.Errorf("payload = %+v", got)
	}
}
