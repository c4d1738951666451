package model

import (
	"time"

	"github.com/autopeer-io/athena/pkg/geo"
)

// AlertStatus is the lifecycle state of an intercept alert.
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "PENDING"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusExpired      AlertStatus = "EXPIRED"
	// AlertStatusCancelled is used when the vehicle stops qualifying before the
	// officer acknowledges, for example because it turned away.
	AlertStatusCancelled AlertStatus = "CANCELLED"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusPending, AlertStatusAcknowledged, AlertStatusExpired, AlertStatusCancelled:
		return true
	}
	return false
}

// InterceptAlert asks an officer to intercept a nearby vehicle.
type InterceptAlert struct {
	ID        string          `json:"alert_id"`
	OfficerID string          `json:"officer_id"`
	VehicleID string          `json:"vehicle_id"`
	Vehicle   VehicleSnapshot `json:"vehicle"`
	Location  geo.Point       `json:"location"`
	CameraID  string          `json:"camera_id,omitempty"`

	DistanceMeters            float64 `json:"distance_meters"`
	Direction                 string  `json:"direction"`
	Bearing                   float64 `json:"bearing"`
	EstimatedInterceptSeconds float64 `json:"estimated_intercept_seconds"`

	// Critical alerts come from the critical-vehicle path and are escalated
	// through every delivery channel.
	Critical bool `json:"critical"`

	Status         AlertStatus `json:"status"`
	GeneratedAt    time.Time   `json:"generated_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
}

// Key returns the deduplication key of the alert.
func (a *InterceptAlert) Key() DedupKey {
	return DedupKey{OfficerID: a.OfficerID, VehicleID: a.VehicleID}
}

// DedupKey collapses repeated qualifying events into one live alert.
type DedupKey struct {
	OfficerID string
	VehicleID string
}

func (k DedupKey) String() string {
	return k.OfficerID + "/" + k.VehicleID
}

// Audience selects who a notification is addressed to.
type Audience string

const (
	AudienceOfficer Audience = "officer"
	AudienceControl Audience = "control"
)

// Notification is one unit of work for a delivery channel.
type Notification struct {
	// ID is the alert id for officer notifications, the event id otherwise.
	ID        string        `json:"id"`
	Audience  Audience      `json:"audience"`
	OfficerID string        `json:"officer_id,omitempty"`
	VehicleID string        `json:"vehicle_id,omitempty"`
	Critical  bool          `json:"critical"`
	Event     OutboundEvent `json:"-"`
}
