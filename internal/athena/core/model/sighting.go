package model

import (
	"time"

	"github.com/autopeer-io/athena/pkg/geo"
)

// Sighting is one observation of a tracked vehicle.
type Sighting struct {
	VehicleID  string    `json:"vehicle_id"`
	Location   geo.Point `json:"location"`
	CameraID   string    `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`

	// ArrivedAt is when the sighting reached this process.
	ArrivedAt time.Time `json:"arrived_at"`

	// OutOfOrder marks a sighting older than the newest in-order one at arrival.
	// It is kept for audit and ignored for motion estimates.
	OutOfOrder bool `json:"out_of_order,omitempty"`
}

// NewSighting builds the sighting recorded for an identification.
func NewSighting(vehicleID string, ident *Identification) Sighting {
	return Sighting{
		VehicleID:  vehicleID,
		Location:   ident.Location,
		CameraID:   ident.CameraID,
		Timestamp:  ident.Timestamp,
		Confidence: ident.OverallConfidence(),
	}
}

// Motion is the movement estimated from the two most recent in-order sightings.
type Motion struct {
	Heading  float64   `json:"heading"`
	SpeedMps float64   `json:"speed_mps"`
	From     geo.Point `json:"from"`
	To       geo.Point `json:"to"`
	At       time.Time `json:"at"`
}
