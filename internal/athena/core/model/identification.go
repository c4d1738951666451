package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/autopeer-io/athena/pkg/geo"
)

// Confidence holds per-attribute recognition scores in [0, 1].
type Confidence struct {
	Plate float64 `json:"plate"`
	Make  float64 `json:"make"`
	Model float64 `json:"model"`
}

// Identification is a single vehicle recognition produced by the vision pipeline.
type Identification struct {
	ID         string     `json:"event_id,omitempty"`
	Plate      string     `json:"plate"`
	Make       string     `json:"make,omitempty"`
	Model      string     `json:"model,omitempty"`
	Color      string     `json:"color,omitempty"`
	Location   geo.Point  `json:"location"`
	CameraID   string     `json:"camera_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Confidence Confidence `json:"confidence"`

	// Heading and SpeedMps are optional when the camera pipeline tracks motion itself.
	Heading  *float64 `json:"heading,omitempty"`
	SpeedMps *float64 `json:"speed_mps,omitempty"`
}

// OverallConfidence is the score compared against the match thresholds.
// The plate is the primary match key, so its confidence is used.
func (i *Identification) OverallConfidence() float64 {
	return i.Confidence.Plate
}

// NormalizedPlate returns the plate in matching form.
func (i *Identification) NormalizedPlate() string {
	return NormalizePlate(i.Plate)
}

// Validate checks the fields the engine relies on.
func (i *Identification) Validate() error {
	var errs []error

	if i.NormalizedPlate() == "" {
		errs = append(errs, errors.New("plate is required"))
	}
	if i.CameraID == "" {
		errs = append(errs, errors.New("camera_id is required"))
	}
	if i.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if err := i.Location.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("location: %w", err))
	}
	for name, c := range map[string]float64{"plate": i.Confidence.Plate, "make": i.Confidence.Make, "model": i.Confidence.Model} {
		if math.IsNaN(c) || c < 0 || c > 1 {
			errs = append(errs, fmt.Errorf("confidence.%s must be within [0, 1]", name))
		}
	}
	if i.Heading != nil && !validHeading(*i.Heading) {
		errs = append(errs, fmt.Errorf("heading %v must be within [0, 360]", *i.Heading))
	}
	if i.SpeedMps != nil && (math.IsNaN(*i.SpeedMps) || *i.SpeedMps < 0) {
		errs = append(errs, errors.New("speed_mps must not be negative"))
	}

	return errors.Join(errs...)
}

func validHeading(h float64) bool {
	return !math.IsNaN(h) && h >= 0 && h <= 360
}
