package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/dispatch"
	"github.com/autopeer-io/athena/internal/athena/core/engine"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/athena/core/officer"
	"github.com/autopeer-io/athena/internal/athena/core/registry"
	"github.com/autopeer-io/athena/internal/pkg/metrics"
	"github.com/autopeer-io/athena/pkg/log"
)

// Service implements the use cases behind every inbound event. The MQTT and
// HTTP adapters both drive it, so they behave identically.
type Service struct {
	clock      clock.WithTicker
	log        log.Logger
	metrics    *metrics.Metrics
	registry   *registry.Registry
	officers   *officer.Registry
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
}

func New(
	reg *registry.Registry,
	officers *officer.Registry,
	eng *engine.Engine,
	d *dispatch.Dispatcher,
	clk clock.WithTicker,
	m *metrics.Metrics,
	logger log.Logger,
) *Service {
	return &Service{
		clock:      clk,
		log:        logger.WithName("service"),
		metrics:    m,
		registry:   reg,
		officers:   officers,
		engine:     eng,
		dispatcher: d,
	}
}

// Result carries whatever the handled event produced. At most one field is set.
type Result struct {
	Decision  *engine.Decision        `json:"decision,omitempty"`
	Vehicle   *model.CriticalVehicle  `json:"vehicle,omitempty"`
	Violation *model.ViolationVehicle `json:"violation,omitempty"`
	Officer   *model.OfficerLocation  `json:"officer,omitempty"`
	Alert     *model.InterceptAlert   `json:"alert,omitempty"`
	Removed   bool                    `json:"removed,omitempty"`
}

// Handle applies one inbound event. Errors wrap the core sentinels and never
// affect other events.
func (s *Service) Handle(ctx context.Context, ev model.InboundEvent) (*Result, error) {
	switch e := ev.(type) {
	case *model.VehicleIdentified:
		dec, err := s.engine.Evaluate(ctx, &e.Identification)
		return &Result{Decision: dec}, err
	case *model.OfficerLocationUpdate:
		loc, err := s.UpdateOfficer(ctx, e)
		return &Result{Officer: loc}, err
	case *model.CriticalVehicleRegistered:
		v, err := s.registry.RegisterCritical(ctx, e.ToVehicle())
		return &Result{Vehicle: v}, err
	case *model.VehicleStatusChanged:
		v, err := s.ChangeVehicleStatus(ctx, e.VehicleID, e.NewStatus)
		return &Result{Vehicle: v}, err
	case *model.AlertAcknowledged:
		a, err := s.dispatcher.Acknowledge(ctx, e.AlertID, e.OfficerID)
		return &Result{Alert: a}, err
	case *model.ViolationVehicleRegistered:
		v, err := s.registry.PutViolation(&e.ViolationVehicle)
		return &Result{Violation: v}, err
	case *model.ViolationVehicleRemoved:
		return &Result{Removed: s.registry.RemoveViolation(e.Plate)}, nil
	case nil:
		return nil, fmt.Errorf("%w: nil event", core.ErrInvalidEvent)
	default:
		// Unreachable while InboundEvent stays sealed.
		return nil, fmt.Errorf("%w: %w %T", core.ErrInvalidEvent, model.ErrUnknownEventType, ev)
	}
}

// UpdateOfficer stores the position with the local arrival time.
func (s *Service) UpdateOfficer(ctx context.Context, e *model.OfficerLocationUpdate) (*model.OfficerLocation, error) {
	loc, err := s.officers.Update(ctx, e.ToLocation(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidEvent, err)
	}
	s.refreshOfficerGauge()
	return loc, nil
}

// ChangeVehicleStatus transitions a critical vehicle. Closing it cancels
// every PENDING alert still chasing it.
func (s *Service) ChangeVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) (*model.CriticalVehicle, error) {
	v, err := s.registry.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if !v.Status.Terminal() {
		return v, nil
	}

	reason := "vehicle_" + strings.ToLower(string(v.Status))
	for _, a := range s.dispatcher.List("", model.AlertStatusPending) {
		if a.VehicleID != v.ID {
			continue
		}
		s.dispatcher.Suppress(ctx, a.OfficerID, a.VehicleID, reason)
	}
	return v, nil
}

// RemoveOfficer forgets an officer, e.g. at end of shift.
func (s *Service) RemoveOfficer(officerID string) bool {
	ok := s.officers.Remove(officerID)
	s.refreshOfficerGauge()
	return ok
}

// Run keeps the officer gauges current as positions go stale. It blocks until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.refreshOfficerGauge()
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) refreshOfficerGauge() {
	tracked, available := s.officers.Counts()
	s.metrics.Officers.WithLabelValues("tracked").Set(float64(tracked))
	s.metrics.Officers.WithLabelValues("available").Set(float64(available))
}
