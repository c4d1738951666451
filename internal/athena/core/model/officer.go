package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/autopeer-io/athena/pkg/geo"
)

// OfficerLocation is the latest known position of a patrol officer.
type OfficerLocation struct {
	OfficerID string    `json:"officer_id"`
	Location  geo.Point `json:"location"`
	Heading   float64   `json:"heading"`
	SpeedMps  float64   `json:"speed_mps"`
	OnDuty    bool      `json:"on_duty"`

	// ReportedAt is the device timestamp. It is informational only because
	// field devices drift.
	ReportedAt time.Time `json:"reported_at"`

	// LastUpdated is the arrival time and drives staleness.
	LastUpdated time.Time `json:"last_updated"`
}

// Validate checks an inbound location update.
func (o *OfficerLocation) Validate() error {
	var errs []error

	if o.OfficerID == "" {
		errs = append(errs, errors.New("officer_id is required"))
	}
	if err := o.Location.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("location: %w", err))
	}
	if !validHeading(o.Heading) {
		errs = append(errs, fmt.Errorf("heading %v must be within [0, 360]", o.Heading))
	}
	if math.IsNaN(o.SpeedMps) || o.SpeedMps < 0 {
		errs = append(errs, errors.New("speed_mps must not be negative"))
	}

	return errors.Join(errs...)
}
