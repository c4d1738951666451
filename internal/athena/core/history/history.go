// Package history keeps the per-vehicle sighting log and derives motion from it.
package history

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/geo"
)

type track struct {
	sightings []model.Sighting

	// lastInOrder indexes the newest in-order sighting, -1 when none.
	lastInOrder int
}

// Store is an in-memory, append-only sighting log. Appends for the same
// vehicle are serialized; reads never block appends for other vehicles.
type Store struct {
	clock clock.PassiveClock

	mu     sync.RWMutex
	tracks map[string]*track

	appends keymutex.KeyMutex
}

// New returns an empty store.
func New(clk clock.PassiveClock) *Store {
	return &Store{
		clock:   clk,
		tracks:  make(map[string]*track),
		appends: keymutex.NewHashed(0),
	}
}

// Append stores s at the end of the vehicle's log. A sighting older than the
// newest in-order one is still stored, marked OutOfOrder, and reported with
// core.ErrOutOfOrderSighting.
func (s *Store) Append(vehicleID string, sighting model.Sighting) error {
	if vehicleID == "" {
		return fmt.Errorf("%w: vehicle id is required", core.ErrInvalidEvent)
	}
	if err := sighting.Location.Validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidEvent, err)
	}

	s.appends.LockKey(vehicleID)
	defer func() { _ = s.appends.UnlockKey(vehicleID) }()

	sighting.VehicleID = vehicleID
	sighting.ArrivedAt = s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.tracks[vehicleID]
	if !ok {
		tr = &track{lastInOrder: -1}
		s.tracks[vehicleID] = tr
	}

	if tr.lastInOrder >= 0 && sighting.Timestamp.Before(tr.sightings[tr.lastInOrder].Timestamp) {
		sighting.OutOfOrder = true
		tr.sightings = append(tr.sightings, sighting)
		return fmt.Errorf("%w: %s at %s is older than %s", core.ErrOutOfOrderSighting, vehicleID,
			sighting.Timestamp.Format(time.RFC3339Nano), tr.sightings[tr.lastInOrder].Timestamp.Format(time.RFC3339Nano))
	}

	tr.sightings = append(tr.sightings, sighting)
	tr.lastInOrder = len(tr.sightings) - 1
	return nil
}

// Sightings returns a copy of the vehicle's log in arrival order.
func (s *Store) Sightings(vehicleID string) []model.Sighting {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.tracks[vehicleID]
	if !ok {
		return nil
	}
	out := make([]model.Sighting, len(tr.sightings))
	copy(out, tr.sightings)
	return out
}

// Latest returns the newest in-order sighting.
func (s *Store) Latest(vehicleID string) (model.Sighting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.tracks[vehicleID]
	if !ok || tr.lastInOrder < 0 {
		return model.Sighting{}, false
	}
	return tr.sightings[tr.lastInOrder], true
}

// RecentHeading returns the bearing between the two most recent in-order
// sightings that lie within window of the newest one. ok is false when fewer
// than two such sightings exist or they share a location.
func (s *Store) RecentHeading(vehicleID string, window time.Duration) (heading float64, ok bool) {
	m, ok := s.Motion(vehicleID, window)
	if !ok {
		return 0, false
	}
	return m.Heading, true
}

// Motion derives heading and speed from the two most recent in-order
// sightings within window. Speed is zero when both share a timestamp.
func (s *Store) Motion(vehicleID string, window time.Duration) (model.Motion, bool) {
	prev, last, ok := s.lastPair(vehicleID, window)
	if !ok {
		return model.Motion{}, false
	}

	dist, err := geo.Distance(prev.Location, last.Location)
	if err != nil || dist == 0 {
		return model.Motion{}, false
	}
	heading, err := geo.Bearing(prev.Location, last.Location)
	if err != nil {
		return model.Motion{}, false
	}

	var speed float64
	if dt := last.Timestamp.Sub(prev.Timestamp).Seconds(); dt > 0 {
		speed = dist / dt
	}

	return model.Motion{
		Heading:  heading,
		SpeedMps: speed,
		From:     prev.Location,
		To:       last.Location,
		At:       last.Timestamp,
	}, true
}

func (s *Store) lastPair(vehicleID string, window time.Duration) (prev, last model.Sighting, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, found := s.tracks[vehicleID]
	if !found || tr.lastInOrder < 1 {
		return prev, last, false
	}

	last = tr.sightings[tr.lastInOrder]
	for i := tr.lastInOrder - 1; i >= 0; i-- {
		c := tr.sightings[i]
		if c.OutOfOrder {
			continue
		}
		if last.Timestamp.Sub(c.Timestamp) > window {
			return prev, last, false
		}
		return c, last, true
	}
	return prev, last, false
}

// PredictedPath extrapolates the vehicle's last position along its current
// heading and speed. Waypoints are step apart up to horizon. The result is
// advisory and never feeds the alert decision.
func (s *Store) PredictedPath(vehicleID string, window, horizon, step time.Duration) ([]geo.Point, error) {
	if horizon <= 0 || step <= 0 {
		return nil, fmt.Errorf("%w: horizon and step must be positive", core.ErrInvalidEvent)
	}

	m, ok := s.Motion(vehicleID, window)
	if !ok {
		return nil, fmt.Errorf("%w: no recent motion for %s", core.ErrInsufficientHistory, vehicleID)
	}

	points := make([]geo.Point, 0, int(horizon/step))
	for t := step; t <= horizon; t += step {
		points = append(points, geo.Destination(m.To, m.Heading, m.SpeedMps*t.Seconds()))
	}
	return points, nil
}
