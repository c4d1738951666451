package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/athena/pkg/geo"
)

// EventType names an event on the wire. It is also the last MQTT topic level
// for outbound events.
type EventType string

// Inbound event types.
const (
	TypeVehicleIdentified          EventType = "vehicle_identified"
	TypeOfficerLocationUpdate      EventType = "officer_location_update"
	TypeCriticalVehicleRegistered  EventType = "critical_vehicle_registered"
	TypeVehicleStatusChanged       EventType = "vehicle_status_changed"
	TypeAlertAcknowledged          EventType = "alert_acknowledged"
	TypeViolationVehicleRegistered EventType = "violation_vehicle_registered"
	TypeViolationVehicleRemoved    EventType = "violation_vehicle_removed"
)

// Outbound event types.
const (
	TypeInterceptAlertGenerated    EventType = "intercept_alert_generated"
	TypeInterceptAlertSuppressed   EventType = "intercept_alert_suppressed"
	TypeCriticalVehicleDetected    EventType = "critical_vehicle_detected"
	TypeAlertDeliveryFailed        EventType = "alert_delivery_failed"
	TypeInterceptAlertExpired      EventType = "intercept_alert_expired"
	TypeInterceptAlertAcknowledged EventType = "intercept_alert_acknowledged"
)

// ErrUnknownEventType is returned when decoding an event type this build does not know.
var ErrUnknownEventType = errors.New("unknown event type")

// InboundEvent is the closed set of events the engine consumes. The unexported
// marker keeps implementations inside this package.
type InboundEvent interface {
	EventType() EventType
	inbound()
}

// OutboundEvent is the closed set of events the engine produces.
type OutboundEvent interface {
	EventType() EventType
	outbound()
}

// ---- inbound ----

type VehicleIdentified struct {
	Identification
}

type OfficerLocationUpdate struct {
	OfficerID string    `json:"officer_id"`
	Location  geo.Point `json:"location"`
	Heading   float64   `json:"heading"`
	SpeedMps  float64   `json:"speed_mps"`
	// OnDuty defaults to true when omitted.
	OnDuty    *bool     `json:"on_duty,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToLocation converts the update into the stored record. arrived is the local receive time.
func (e *OfficerLocationUpdate) ToLocation(arrived time.Time) *OfficerLocation {
	onDuty := true
	if e.OnDuty != nil {
		onDuty = *e.OnDuty
	}
	return &OfficerLocation{
		OfficerID:   e.OfficerID,
		Location:    e.Location,
		Heading:     e.Heading,
		SpeedMps:    e.SpeedMps,
		OnDuty:      onDuty,
		ReportedAt:  e.Timestamp,
		LastUpdated: arrived,
	}
}

type CriticalVehicleRegistered struct {
	VehicleID    string   `json:"vehicle_id,omitempty"`
	Plate        string   `json:"plate"`
	Make         string   `json:"make,omitempty"`
	Model        string   `json:"model,omitempty"`
	CaseType     CaseType `json:"case_type"`
	CaseNumber   string   `json:"case_number,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
	RegisteredBy string   `json:"registered_by,omitempty"`
}

// ToVehicle builds the registry record. Priority defaults to HIGH.
func (e *CriticalVehicleRegistered) ToVehicle() *CriticalVehicle {
	priority := e.Priority
	if priority == "" {
		priority = PriorityHigh
	}
	return &CriticalVehicle{
		ID:           e.VehicleID,
		Plate:        e.Plate,
		Make:         e.Make,
		Model:        e.Model,
		CaseType:     e.CaseType,
		CaseNumber:   e.CaseNumber,
		Priority:     priority,
		RegisteredBy: e.RegisteredBy,
	}
}

type VehicleStatusChanged struct {
	VehicleID string        `json:"vehicle_id"`
	NewStatus VehicleStatus `json:"new_status"`
}

type AlertAcknowledged struct {
	AlertID   string    `json:"alert_id"`
	OfficerID string    `json:"officer_id"`
	Timestamp time.Time `json:"timestamp"`
}

type ViolationVehicleRegistered struct {
	ViolationVehicle
}

type ViolationVehicleRemoved struct {
	Plate string `json:"plate"`
}

func (*VehicleIdentified) EventType() EventType          { return TypeVehicleIdentified }
func (*OfficerLocationUpdate) EventType() EventType      { return TypeOfficerLocationUpdate }
func (*CriticalVehicleRegistered) EventType() EventType  { return TypeCriticalVehicleRegistered }
func (*VehicleStatusChanged) EventType() EventType       { return TypeVehicleStatusChanged }
func (*AlertAcknowledged) EventType() EventType          { return TypeAlertAcknowledged }
func (*ViolationVehicleRegistered) EventType() EventType { return TypeViolationVehicleRegistered }
func (*ViolationVehicleRemoved) EventType() EventType    { return TypeViolationVehicleRemoved }

func (*VehicleIdentified) inbound()          {}
func (*OfficerLocationUpdate) inbound()      {}
func (*CriticalVehicleRegistered) inbound()  {}
func (*VehicleStatusChanged) inbound()       {}
func (*AlertAcknowledged) inbound()          {}
func (*ViolationVehicleRegistered) inbound() {}
func (*ViolationVehicleRemoved) inbound()    {}

// ---- outbound ----

type InterceptAlertGenerated struct {
	AlertID                   string          `json:"alert_id"`
	OfficerID                 string          `json:"officer_id"`
	VehicleID                 string          `json:"vehicle_id"`
	Vehicle                   VehicleSnapshot `json:"vehicle"`
	Location                  geo.Point       `json:"location"`
	DistanceMeters            float64         `json:"distance_meters"`
	Direction                 string          `json:"direction"`
	EstimatedInterceptSeconds float64         `json:"estimated_intercept_seconds"`
	Critical                  bool            `json:"critical"`
	GeneratedAt               time.Time       `json:"generated_at"`
}

// NewInterceptAlertGenerated snapshots a for publication.
func NewInterceptAlertGenerated(a *InterceptAlert) *InterceptAlertGenerated {
	return &InterceptAlertGenerated{
		AlertID:                   a.ID,
		OfficerID:                 a.OfficerID,
		VehicleID:                 a.VehicleID,
		Vehicle:                   a.Vehicle,
		Location:                  a.Location,
		DistanceMeters:            a.DistanceMeters,
		Direction:                 a.Direction,
		EstimatedInterceptSeconds: a.EstimatedInterceptSeconds,
		Critical:                  a.Critical,
		GeneratedAt:               a.GeneratedAt,
	}
}

type InterceptAlertSuppressed struct {
	AlertID   string    `json:"alert_id,omitempty"`
	OfficerID string    `json:"officer_id"`
	VehicleID string    `json:"vehicle_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

type CriticalVehicleDetected struct {
	EventID    string    `json:"event_id"`
	VehicleID  string    `json:"vehicle_id"`
	Plate      string    `json:"plate"`
	Location   geo.Point `json:"location"`
	CameraID   string    `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	CaseType   CaseType  `json:"case_type"`
	CaseNumber string    `json:"case_number,omitempty"`
	Priority   Priority  `json:"priority"`
}

type AlertDeliveryFailed struct {
	AlertID   string    `json:"alert_id"`
	OfficerID string    `json:"officer_id,omitempty"`
	Channel   string    `json:"channel"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type InterceptAlertExpired struct {
	AlertID   string    `json:"alert_id"`
	OfficerID string    `json:"officer_id"`
	VehicleID string    `json:"vehicle_id"`
	At        time.Time `json:"at"`
}

type InterceptAlertAcknowledged struct {
	AlertID   string    `json:"alert_id"`
	OfficerID string    `json:"officer_id"`
	VehicleID string    `json:"vehicle_id"`
	At        time.Time `json:"at"`
}

func (*InterceptAlertGenerated) EventType() EventType    { return TypeInterceptAlertGenerated }
func (*InterceptAlertSuppressed) EventType() EventType   { return TypeInterceptAlertSuppressed }
func (*CriticalVehicleDetected) EventType() EventType    { return TypeCriticalVehicleDetected }
func (*AlertDeliveryFailed) EventType() EventType        { return TypeAlertDeliveryFailed }
func (*InterceptAlertExpired) EventType() EventType      { return TypeInterceptAlertExpired }
func (*InterceptAlertAcknowledged) EventType() EventType { return TypeInterceptAlertAcknowledged }

func (*InterceptAlertGenerated) outbound()    {}
func (*InterceptAlertSuppressed) outbound()   {}
func (*CriticalVehicleDetected) outbound()    {}
func (*AlertDeliveryFailed) outbound()        {}
func (*InterceptAlertExpired) outbound()      {}
func (*InterceptAlertAcknowledged) outbound() {}

// ---- wire format ----

// Envelope is the JSON frame used wherever the event type is not implied by
// the transport (WebSocket frames, the generic events endpoint).
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeOutbound frames e in an Envelope.
func EncodeOutbound(e OutboundEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	return json.Marshal(Envelope{Type: e.EventType(), Data: data})
}

// DecodeInbound parses an Envelope carrying an inbound event.
func DecodeInbound(frame []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodeInboundAs(env.Type, env.Data)
}

// DecodeInboundAs parses data as the inbound event named by t.
func DecodeInboundAs(t EventType, data []byte) (InboundEvent, error) {
	var e InboundEvent
	switch t {
	case TypeVehicleIdentified:
		e = &VehicleIdentified{}
	case TypeOfficerLocationUpdate:
		e = &OfficerLocationUpdate{}
	case TypeCriticalVehicleRegistered:
		e = &CriticalVehicleRegistered{}
	case TypeVehicleStatusChanged:
		e = &VehicleStatusChanged{}
	case TypeAlertAcknowledged:
		e = &AlertAcknowledged{}
	case TypeViolationVehicleRegistered:
		e = &ViolationVehicleRegistered{}
	case TypeViolationVehicleRemoved:
		e = &ViolationVehicleRemoved{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", t)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}
