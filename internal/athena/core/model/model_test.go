package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/autopeer-io/athena/pkg/geo"
)

func TestNormalizePlate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"KA01AB1234", "KA01AB1234"},
		{"ka-01 ab 1234", "KA01AB1234"},
		{" ka.01.ab.1234 ", "KA01AB1234"},
		{"", ""},
		{"--", ""},
	}
	for _, tt := range tests {
		if got := NormalizePlate(tt.in); got != tt.want {
			t.Errorf("NormalizePlate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if ViolationVehicleID("ka 01") != ViolationVehicleID("KA-01") {
		t.Error("violation ids must be derived from the normalized plate")
	}
}

func TestIdentificationValidate(t *testing.T) {
	valid := func() *Identification {
		return &Identification{
			Plate:      "KA01AB1234",
			Location:   geo.Point{Lat: 12.97, Lon: 77.59},
			CameraID:   "CAM-1",
			Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Confidence: Confidence{Plate: 0.95, Make: 0.8, Model: 0.7},
		}
	}
	heading := 400.0

	tests := []struct {
		name    string
		mutate  func(*Identification)
		wantErr bool
		wantGeo bool
	}{
		{"valid", func(*Identification) {}, false, false},
		{"blank plate", func(i *Identification) { i.Plate = " - " }, true, false},
		{"no camera", func(i *Identification) { i.CameraID = "" }, true, false},
		{"zero timestamp", func(i *Identification) { i.Timestamp = time.Time{} }, true, false},
		{"bad latitude", func(i *Identification) { i.Location.Lat = 91 }, true, true},
		{"confidence above one", func(i *Identification) { i.Confidence.Plate = 1.2 }, true, false},
		{"heading out of range", func(i *Identification) { i.Heading = &heading }, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident := valid()
			tt.mutate(ident)
			err := ident.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantGeo && !errors.Is(err, geo.ErrInvalidCoordinate) {
				t.Errorf("expected geo.ErrInvalidCoordinate in %v", err)
			}
		})
	}
}

func TestDecodeInbound(t *testing.T) {
	frame := `{"type":"vehicle_identified","data":{"plate":"KA01AB1234","camera_id":"CAM-7",
		"location":{"latitude":12.972,"longitude":77.595},"timestamp":"2026-01-01T10:00:00Z",
		"confidence":{"plate":0.93,"make":0.5,"model":0.4}}}`

	ev, err := DecodeInbound([]byte(frame))
	if err != nil {
		t.Fatalf("DecodeInbound() error: %v", err)
	}
	vi, ok := ev.(*VehicleIdentified)
	if !ok {
		t.Fatalf("decoded %T, want *VehicleIdentified", ev)
	}
	if vi.Plate != "KA01AB1234" || vi.CameraID != "CAM-7" || vi.Location.Lat != 12.972 {
		t.Errorf("unexpected payload %+v", vi.Identification)
	}
	if vi.OverallConfidence() != 0.93 {
		t.Errorf("overall confidence = %v, want plate confidence", vi.OverallConfidence())
	}

	if _, err := DecodeInbound([]byte(`{"type":"teleport","data":{}}`)); !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("unknown type error = %v, want ErrUnknownEventType", err)
	}
	if _, err := DecodeInboundAs(TypeAlertAcknowledged, nil); err == nil {
		t.Error("empty payload should fail")
	}
}

func TestAlertAcknowledgedEventAndStatus(t *testing.T) {
	ev, err := DecodeInboundAs(TypeAlertAcknowledged, []byte(`{"alert_id":"a-1","officer_id":"o1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ack, ok := ev.(*AlertAcknowledged); !ok || ack.AlertID != "a-1" || ack.OfficerID != "o1" {
		t.Errorf("decoded %+v", ev)
	}

	for _, s := range []AlertStatus{AlertStatusPending, AlertStatusAcknowledged, AlertStatusExpired, AlertStatusCancelled} {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false", s)
		}
	}
	if AlertStatus("acknowledged").Valid() {
		t.Error("lower-case status should be invalid")
	}
}

func TestOfficerLocationUpdateDefaultsOnDuty(t *testing.T) {
	var u OfficerLocationUpdate
	if err := json.Unmarshal([]byte(`{"officer_id":"OFF-1","location":{"latitude":1,"longitude":2}}`), &u); err != nil {
		t.Fatal(err)
	}
	arrived := time.Now()
	loc := u.ToLocation(arrived)
	if !loc.OnDuty {
		t.Error("on_duty should default to true")
	}
	if !loc.LastUpdated.Equal(arrived) {
		t.Error("LastUpdated must be the arrival time")
	}

	off := false
	u.OnDuty = &off
	if u.ToLocation(arrived).OnDuty {
		t.Error("explicit on_duty=false must be kept")
	}
}

func TestEncodeOutbound(t *testing.T) {
	frame, err := EncodeOutbound(&InterceptAlertSuppressed{OfficerID: "OFF-1", VehicleID: "V-1", Reason: "moving away"})
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeInterceptAlertSuppressed {
		t.Errorf("type = %q", env.Type)
	}
	if !strings.Contains(string(env.Data), `"reason":"moving away"`) {
		t.Errorf("data = %s", env.Data)
	}
}
