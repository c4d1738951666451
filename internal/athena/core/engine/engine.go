// Package engine decides, for every vehicle identification, which nearby
// officers should be asked to intercept the vehicle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/dispatch"
	"github.com/autopeer-io/athena/internal/athena/core/history"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/athena/core/officer"
	"github.com/autopeer-io/athena/internal/athena/core/registry"
	"github.com/autopeer-io/athena/internal/pkg/metrics"
	"github.com/autopeer-io/athena/pkg/geo"
	"github.com/autopeer-io/athena/pkg/log"
)

// Suppression reasons.
const (
	ReasonOutOfRange = "out_of_range"
	ReasonMovingAway = "moving_away"
)

// Config holds the geometry of the intercept decision.
type Config struct {
	// ScanRadius bounds the candidate officers, in meters.
	ScanRadius float64
	// AlertRadius is the strict upper bound on officer distance, in meters.
	AlertRadius float64
	// MaxHeadingDelta is the strict upper bound, in degrees, on the angle
	// between the vehicle's heading and the bearing from vehicle to officer.
	MaxHeadingDelta float64
	// HeadingWindow limits the sightings used to derive a heading.
	HeadingWindow time.Duration
	// MinSpeedMps floors the speed used for the intercept estimate.
	MinSpeedMps float64

	PathHorizon time.Duration
	PathStep    time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScanRadius:      1000,
		AlertRadius:     500,
		MaxHeadingDelta: 45,
		HeadingWindow:   5 * time.Minute,
		MinSpeedMps:     1,
		PathHorizon:     60 * time.Second,
		PathStep:        10 * time.Second,
	}
}

// Dispatcher is the slice of the dispatch layer the engine drives.
type Dispatcher interface {
	Offer(ctx context.Context, a *model.InterceptAlert) (*model.InterceptAlert, dispatch.OfferResult)
	Suppress(ctx context.Context, officerID, vehicleID, reason string) (*model.InterceptAlert, bool)
	DispatchCritical(ctx context.Context, ev *model.CriticalVehicleDetected)
}

// Assessment is the geometry computed for one candidate officer.
type Assessment struct {
	OfficerID      string  `json:"officer_id"`
	VehicleID      string  `json:"vehicle_id"`
	DistanceMeters float64 `json:"distance_meters"`
	// Bearing is from officer to vehicle.
	Bearing float64 `json:"bearing"`
	// HeadingDelta is unset on the critical path when no heading is known.
	HeadingDelta *float64 `json:"heading_delta,omitempty"`
	Qualified    bool     `json:"qualified"`
}

// Suppression records a cancelled PENDING alert.
type Suppression struct {
	AlertID   string `json:"alert_id"`
	OfficerID string `json:"officer_id"`
	VehicleID string `json:"vehicle_id"`
	Reason    string `json:"reason"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	EventID        string                           `json:"event_id"`
	Outcome        core.AuditOutcome                `json:"outcome"`
	Matches        []registry.Match                 `json:"-"`
	BelowThreshold []registry.Match                 `json:"-"`
	Critical       []*model.CriticalVehicleDetected `json:"critical,omitempty"`
	Assessments    []Assessment                     `json:"assessments,omitempty"`
	Alerts         []*model.InterceptAlert          `json:"alerts,omitempty"`
	Suppressed     []Suppression                    `json:"suppressed,omitempty"`

	// HeadingUnavailable lists violation vehicles skipped for lack of a heading.
	HeadingUnavailable []string `json:"heading_unavailable,omitempty"`
	// OutOfOrder lists vehicles whose sighting was older than their newest one.
	// No alert is offered or suppressed for them.
	OutOfOrder []string `json:"out_of_order,omitempty"`
}

// Engine is safe for concurrent use. Evaluations of the same plate are serialized.
type Engine struct {
	cfg        Config
	clock      clock.PassiveClock
	log        log.Logger
	metrics    *metrics.Metrics
	registry   *registry.Registry
	history    *history.Store
	officers   *officer.Registry
	dispatcher Dispatcher
	audit      core.AuditSink

	plates keymutex.KeyMutex
}

func New(cfg Config, reg *registry.Registry, hist *history.Store, officers *officer.Registry, d Dispatcher,
	audit core.AuditSink, clk clock.PassiveClock, m *metrics.Metrics, logger log.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		clock:      clk,
		log:        logger.WithName("engine"),
		metrics:    m,
		registry:   reg,
		history:    hist,
		officers:   officers,
		dispatcher: d,
		audit:      audit,
		plates:     keymutex.NewHashed(0),
	}
}

// Evaluate runs the intercept decision for one identification. A validation
// error fails only this identification. Every identification is audited.
func (e *Engine) Evaluate(ctx context.Context, in *model.Identification) (*Decision, error) {
	start := time.Now()
	defer func() { e.metrics.DecisionLatency.Observe(time.Since(start).Seconds()) }()

	ident := *in
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	dec := &Decision{EventID: ident.ID}
	logger := e.log.WithValues("eventID", ident.ID, "plate", ident.NormalizedPlate(), "cameraID", ident.CameraID)

	if err := ident.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", core.ErrInvalidEvent, err)
		dec.Outcome = core.OutcomeInvalid
		e.record(&ident, dec, err)
		logger.Warn("Rejected identification", "error", err)
		return dec, err
	}

	plate := ident.NormalizedPlate()
	e.plates.LockKey(plate)
	defer func() { _ = e.plates.UnlockKey(plate) }()

	res := e.registry.Match(&ident)
	dec.Matches = res.Matches
	dec.BelowThreshold = res.BelowThreshold

	switch {
	case len(res.Matches) == 0 && len(res.BelowThreshold) == 0:
		dec.Outcome = core.OutcomeNoMatch
		e.record(&ident, dec, nil)
		return dec, nil
	case len(res.Matches) == 0:
		dec.Outcome = core.OutcomeBelowThreshold
		e.record(&ident, dec, nil)
		logger.Info("Watchlist hit below confidence threshold", "confidence", ident.OverallConfidence())
		return dec, nil
	}

	dec.Outcome = core.OutcomeViolationMatch
	stale := make(map[string]bool)
	for _, m := range res.Matches {
		if m.Kind == registry.KindCritical {
			dec.Outcome = core.OutcomeCriticalMatch
		}
		err := e.history.Append(m.VehicleID, model.NewSighting(m.VehicleID, &ident))
		switch {
		case errors.Is(err, core.ErrOutOfOrderSighting):
			// Kept for audit only. The vehicle has already been seen further along.
			stale[m.VehicleID] = true
			dec.OutOfOrder = append(dec.OutOfOrder, m.VehicleID)
			logger.Info("Sighting arrived out of order, skipping decision", "vehicleID", m.VehicleID, "error", err)
		case err != nil:
			logger.Warn("Failed to store sighting", "vehicleID", m.VehicleID, "error", err)
		}
	}
	if len(stale) == len(res.Matches) {
		e.record(&ident, dec, nil)
		return dec, nil
	}

	candidates, err := e.officers.Nearby(ident.Location, e.cfg.ScanRadius)
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrInvalidEvent, err)
		e.record(&ident, dec, err)
		return dec, err
	}

	for i := range res.Matches {
		m := &res.Matches[i]
		if stale[m.VehicleID] {
			continue
		}
		switch m.Kind {
		case registry.KindCritical:
			if !e.registry.WhileActive(m.VehicleID, func() {
				e.evaluateCritical(ctx, logger, &ident, m, candidates, dec)
			}) {
				logger.Info("Critical vehicle closed during evaluation", "vehicleID", m.VehicleID)
			}
		case registry.KindViolation:
			e.evaluateViolation(ctx, logger, &ident, m, candidates, dec)
		}
	}

	e.record(&ident, dec, nil)
	return dec, nil
}

// evaluateCritical notifies the dispatch center unconditionally and alerts
// every candidate officer. Direction is computed for routing only.
func (e *Engine) evaluateCritical(ctx context.Context, logger log.Logger, ident *model.Identification,
	m *registry.Match, candidates []officer.Candidate, dec *Decision) {
	v := m.Critical
	ev := &model.CriticalVehicleDetected{
		EventID:    ident.ID,
		VehicleID:  v.ID,
		Plate:      v.Plate,
		Location:   ident.Location,
		CameraID:   ident.CameraID,
		Timestamp:  ident.Timestamp,
		CaseType:   v.CaseType,
		CaseNumber: v.CaseNumber,
		Priority:   v.Priority,
	}
	e.dispatcher.DispatchCritical(ctx, ev)
	dec.Critical = append(dec.Critical, ev)

	heading, speed, hasHeading := e.vehicleMotion(ident, m.VehicleID)

	for _, c := range candidates {
		a, err := e.assess(c, m.VehicleID, ident.Location, heading, hasHeading)
		if err != nil {
			logger.Error(err, "Skipping officer", "officerID", c.OfficerID, "vehicleID", m.VehicleID)
			continue
		}
		a.Qualified = true
		dec.Assessments = append(dec.Assessments, a)
		e.offer(ctx, ident, m, a, speed, dec)
	}
}

// evaluateViolation alerts officers the vehicle is heading toward and
// suppresses live alerts of officers it no longer qualifies for.
func (e *Engine) evaluateViolation(ctx context.Context, logger log.Logger, ident *model.Identification,
	m *registry.Match, candidates []officer.Candidate, dec *Decision) {
	heading, speed, ok := e.vehicleMotion(ident, m.VehicleID)
	if !ok {
		// Without a heading "moving toward" cannot be assessed, so nobody is alerted.
		dec.HeadingUnavailable = append(dec.HeadingUnavailable, m.VehicleID)
		logger.Debug("No heading available, skipping directional alerts", "vehicleID", m.VehicleID)
		return
	}

	for _, c := range candidates {
		a, err := e.assess(c, m.VehicleID, ident.Location, heading, true)
		if err != nil {
			logger.Error(err, "Skipping officer", "officerID", c.OfficerID, "vehicleID", m.VehicleID)
			continue
		}
		a.Qualified = qualifies(a.DistanceMeters, *a.HeadingDelta, e.cfg)
		dec.Assessments = append(dec.Assessments, a)

		if a.Qualified {
			e.offer(ctx, ident, m, a, speed, dec)
			continue
		}

		reason := ReasonMovingAway
		if a.DistanceMeters >= e.cfg.AlertRadius {
			reason = ReasonOutOfRange
		}
		if alert, suppressed := e.dispatcher.Suppress(ctx, c.OfficerID, m.VehicleID, reason); suppressed {
			dec.Suppressed = append(dec.Suppressed, Suppression{
				AlertID:   alert.ID,
				OfficerID: c.OfficerID,
				VehicleID: m.VehicleID,
				Reason:    reason,
			})
		}
	}
}

func (e *Engine) offer(ctx context.Context, ident *model.Identification, m *registry.Match, a Assessment, speed float64, dec *Decision) {
	alert, result := e.dispatcher.Offer(ctx, &model.InterceptAlert{
		OfficerID:                 a.OfficerID,
		VehicleID:                 m.VehicleID,
		Vehicle:                   m.Snapshot(ident),
		Location:                  ident.Location,
		CameraID:                  ident.CameraID,
		DistanceMeters:            a.DistanceMeters,
		Direction:                 geo.Cardinal(a.Bearing),
		Bearing:                   a.Bearing,
		EstimatedInterceptSeconds: a.DistanceMeters / math.Max(speed, e.cfg.MinSpeedMps),
		Critical:                  m.Kind == registry.KindCritical,
	})
	if result != dispatch.OfferThrottled {
		dec.Alerts = append(dec.Alerts, alert)
	}
}

// assess computes distance, bearing and heading delta for one officer.
func (e *Engine) assess(c officer.Candidate, vehicleID string, vehicle geo.Point, heading float64, hasHeading bool) (Assessment, error) {
	dist, err := geo.Distance(c.Location, vehicle)
	if err != nil {
		return Assessment{}, err
	}
	bearing, err := geo.Bearing(c.Location, vehicle)
	if err != nil {
		return Assessment{}, err
	}

	a := Assessment{
		OfficerID:      c.OfficerID,
		VehicleID:      vehicleID,
		DistanceMeters: dist,
		Bearing:        bearing,
	}
	if hasHeading {
		delta := geo.HeadingDelta(geo.Reciprocal(bearing), heading)
		a.HeadingDelta = &delta
	}
	return a, nil
}

// vehicleMotion prefers the heading and speed reported with the
// identification and falls back to the sighting history.
func (e *Engine) vehicleMotion(ident *model.Identification, vehicleID string) (heading, speed float64, ok bool) {
	motion, hasMotion := e.history.Motion(vehicleID, e.cfg.HeadingWindow)

	switch {
	case ident.Heading != nil:
		heading, ok = geo.Normalize(*ident.Heading), true
	case hasMotion:
		heading, ok = motion.Heading, true
	}

	switch {
	case ident.SpeedMps != nil:
		speed = *ident.SpeedMps
	case hasMotion:
		speed = motion.SpeedMps
	}
	return heading, speed, ok
}

// qualifies is the intercept criterion. Both bounds are strict.
func qualifies(distance, delta float64, cfg Config) bool {
	return distance < cfg.AlertRadius && delta < cfg.MaxHeadingDelta
}

// PredictedPath returns advisory waypoints for a tracked vehicle.
func (e *Engine) PredictedPath(vehicleID string) ([]geo.Point, error) {
	return e.history.PredictedPath(vehicleID, e.cfg.HeadingWindow, e.cfg.PathHorizon, e.cfg.PathStep)
}

// Sightings returns the vehicle's full sighting log, out-of-order entries
// included, and its newest in-order sighting.
func (e *Engine) Sightings(vehicleID string) (all []model.Sighting, latest model.Sighting, ok bool) {
	latest, ok = e.history.Latest(vehicleID)
	return e.history.Sightings(vehicleID), latest, ok
}

func (e *Engine) record(ident *model.Identification, dec *Decision, err error) {
	e.metrics.IdentificationsTotal.WithLabelValues(string(dec.Outcome)).Inc()

	rec := &core.AuditRecord{
		EventID:        ident.ID,
		Outcome:        dec.Outcome,
		Identification: *ident,
		Alerts:         len(dec.Alerts),
		Suppressed:     len(dec.Suppressed),
		RecordedAt:     e.clock.Now(),
	}
	for _, matches := range [][]registry.Match{dec.Matches, dec.BelowThreshold} {
		for _, m := range matches {
			rec.VehicleIDs = append(rec.VehicleIDs, m.VehicleID)
			rec.LowConfidenceSecondary = rec.LowConfidenceSecondary || m.LowConfidenceSecondary
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	e.audit.Record(rec)
}
