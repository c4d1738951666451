package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*EngineOptions)(nil)

// EngineOptions holds the decision thresholds.
type EngineOptions struct {
	// ScanRadius bounds the officer proximity query, in meters.
	ScanRadius float64 `json:"scan-radius" mapstructure:"scan-radius"`

	// AlertRadius and MaxHeadingDelta are strict upper bounds.
	AlertRadius     float64 `json:"alert-radius" mapstructure:"alert-radius"`
	MaxHeadingDelta float64 `json:"max-heading-delta" mapstructure:"max-heading-delta"`

	CriticalThreshold  float64 `json:"critical-threshold" mapstructure:"critical-threshold"`
	ViolationThreshold float64 `json:"violation-threshold" mapstructure:"violation-threshold"`

	HeadingWindow time.Duration `json:"heading-window" mapstructure:"heading-window"`
	MinSpeedMps   float64       `json:"min-speed-mps" mapstructure:"min-speed-mps"`

	// OfficerStaleAfter excludes officers whose last update is older.
	OfficerStaleAfter time.Duration `json:"officer-stale-after" mapstructure:"officer-stale-after"`

	PathHorizon time.Duration `json:"path-horizon" mapstructure:"path-horizon"`
	PathStep    time.Duration `json:"path-step" mapstructure:"path-step"`
}

func NewEngineOptions() *EngineOptions {
	return &EngineOptions{
		ScanRadius:         1000,
		AlertRadius:        500,
		MaxHeadingDelta:    45,
		CriticalThreshold:  0.90,
		ViolationThreshold: 0.80,
		HeadingWindow:      5 * time.Minute,
		MinSpeedMps:        1,
		OfficerStaleAfter:  5 * time.Minute,
		PathHorizon:        60 * time.Second,
		PathStep:           10 * time.Second,
	}
}

func (o *EngineOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.AlertRadius <= 0 {
		errs = append(errs, fmt.Errorf("--engine.alert-radius must be positive"))
	}
	if o.ScanRadius < o.AlertRadius {
		errs = append(errs, fmt.Errorf("--engine.scan-radius must not be smaller than --engine.alert-radius"))
	}
	if o.MaxHeadingDelta <= 0 || o.MaxHeadingDelta > 180 {
		errs = append(errs, fmt.Errorf("--engine.max-heading-delta must be in (0, 180]"))
	}
	if o.CriticalThreshold < 0 || o.CriticalThreshold > 1 {
		errs = append(errs, fmt.Errorf("--engine.critical-threshold must be in [0, 1]"))
	}
	if o.ViolationThreshold < 0 || o.ViolationThreshold > 1 {
		errs = append(errs, fmt.Errorf("--engine.violation-threshold must be in [0, 1]"))
	}
	if o.HeadingWindow <= 0 {
		errs = append(errs, fmt.Errorf("--engine.heading-window must be positive"))
	}
	if o.MinSpeedMps <= 0 {
		errs = append(errs, fmt.Errorf("--engine.min-speed-mps must be positive"))
	}
	if o.OfficerStaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("--engine.officer-stale-after must be positive"))
	}
	if o.PathStep <= 0 || o.PathHorizon < o.PathStep {
		errs = append(errs, fmt.Errorf("--engine.path-step must be positive and not exceed --engine.path-horizon"))
	}

	return errs
}

func (o *EngineOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.ScanRadius, "engine.scan-radius", o.ScanRadius, "Radius in meters of the officer proximity query.")
	fs.Float64Var(&o.AlertRadius, "engine.alert-radius", o.AlertRadius, "Officers must be strictly closer than this many meters to be alerted.")
	fs.Float64Var(&o.MaxHeadingDelta, "engine.max-heading-delta", o.MaxHeadingDelta, "Maximum angle in degrees between vehicle heading and the bearing to the officer.")
	fs.Float64Var(&o.CriticalThreshold, "engine.critical-threshold", o.CriticalThreshold, "Minimum confidence for a critical vehicle match.")
	fs.Float64Var(&o.ViolationThreshold, "engine.violation-threshold", o.ViolationThreshold, "Minimum confidence for a violation vehicle match.")
	fs.DurationVar(&o.HeadingWindow, "engine.heading-window", o.HeadingWindow, "Sightings older than this are ignored when deriving a heading.")
	fs.Float64Var(&o.MinSpeedMps, "engine.min-speed-mps", o.MinSpeedMps, "Speed floor in m/s for the intercept estimate.")
	fs.DurationVar(&o.OfficerStaleAfter, "engine.officer-stale-after", o.OfficerStaleAfter, "Officer locations older than this are not alerted.")
	fs.DurationVar(&o.PathHorizon, "engine.path-horizon", o.PathHorizon, "How far ahead the predicted path extends.")
	fs.DurationVar(&o.PathStep, "engine.path-step", o.PathStep, "Interval between predicted path waypoints.")
}
