package service

import (
	"fmt"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/geo"
)

func (s *Service) Vehicle(id string) (*model.CriticalVehicle, error) {
	return s.registry.GetCritical(id)
}

// Vehicles lists critical vehicles. An empty status matches all of them.
func (s *Service) Vehicles(status model.VehicleStatus) []*model.CriticalVehicle {
	return s.registry.ListCritical(status)
}

func (s *Service) Violations() []*model.ViolationVehicle {
	return s.registry.ListViolations()
}

// LoadViolations replaces the violation watchlist in one step.
func (s *Service) LoadViolations(list []*model.ViolationVehicle) (int, error) {
	n, err := s.registry.ReplaceViolations(list)
	s.log.Info("Violation watchlist loaded", "entries", n, "rejected", err != nil)
	return n, err
}

func (s *Service) Officer(id string) (*model.OfficerLocation, error) {
	loc, ok := s.officers.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrOfficerNotFound, id)
	}
	return loc, nil
}

func (s *Service) Officers() []*model.OfficerLocation {
	return s.officers.List()
}

func (s *Service) Alert(id string) (*model.InterceptAlert, error) {
	return s.dispatcher.Get(id)
}

// Alerts lists alerts newest first. Empty filters match everything.
func (s *Service) Alerts(officerID string, status model.AlertStatus) []*model.InterceptAlert {
	return s.dispatcher.List(officerID, status)
}

// PredictedPath extrapolates a tracked vehicle's route. It is advisory only.
func (s *Service) PredictedPath(vehicleID string) ([]geo.Point, error) {
	return s.engine.PredictedPath(vehicleID)
}

// Track is the camera trail of one watched vehicle.
type Track struct {
	VehicleID string `json:"vehicle_id"`
	// LastSeen is the newest in-order sighting.
	LastSeen  *model.Sighting  `json:"last_seen,omitempty"`
	Sightings []model.Sighting `json:"sightings"`
}

// Track returns every sighting recorded for the vehicle in arrival order.
func (s *Service) Track(vehicleID string) (*Track, error) {
	sightings, latest, ok := s.engine.Sightings(vehicleID)
	if len(sightings) == 0 {
		return nil, fmt.Errorf("%w: no sightings of %s", core.ErrVehicleNotFound, vehicleID)
	}
	t := &Track{VehicleID: vehicleID, Sightings: sightings}
	if ok {
		t.LastSeen = &latest
	}
	return t, nil
}

// TrackPlate returns the camera trail of a violation-watchlist plate.
func (s *Service) TrackPlate(plate string) (*Track, error) {
	return s.Track(model.ViolationVehicleID(plate))
}
