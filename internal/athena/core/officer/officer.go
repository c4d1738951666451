// Package officer keeps the latest location of every patrol officer.
package officer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/geo"
)

// DefaultStaleAfter is how long a location stays usable without an update.
const DefaultStaleAfter = 5 * time.Minute

// Candidate is an officer returned by a proximity query.
type Candidate struct {
	model.OfficerLocation
	DistanceMeters float64
}

// Registry holds one record per officer. The last update to arrive wins,
// whatever timestamp the device claims.
type Registry struct {
	clock      clock.PassiveClock
	staleAfter time.Duration

	mu       sync.RWMutex
	officers map[string]*model.OfficerLocation

	updates keymutex.KeyMutex
}

// New returns an empty registry. staleAfter <= 0 uses DefaultStaleAfter.
func New(clk clock.PassiveClock, staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Registry{
		clock:      clk,
		staleAfter: staleAfter,
		officers:   make(map[string]*model.OfficerLocation),
		updates:    keymutex.NewHashed(0),
	}
}

// Update overwrites the officer's record. LastUpdated is set to the arrival time.
func (r *Registry) Update(ctx context.Context, loc *model.OfficerLocation) (*model.OfficerLocation, error) {
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidEvent, err)
	}

	r.updates.LockKey(loc.OfficerID)
	defer func() { _ = r.updates.UnlockKey(loc.OfficerID) }()

	stored := *loc
	stored.Heading = geo.Normalize(stored.Heading)
	stored.LastUpdated = r.clock.Now()

	r.mu.Lock()
	r.officers[stored.OfficerID] = &stored
	r.mu.Unlock()

	out := stored
	return &out, nil
}

// Remove forgets an officer. It reports whether a record existed.
func (r *Registry) Remove(officerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.officers[officerID]
	delete(r.officers, officerID)
	return ok
}

// Get returns the officer's record regardless of freshness.
func (r *Registry) Get(officerID string) (*model.OfficerLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.officers[officerID]
	if !ok {
		return nil, false
	}
	out := *loc
	return &out, true
}

// List returns every record ordered by officer id.
func (r *Registry) List() []*model.OfficerLocation {
	r.mu.RLock()
	out := make([]*model.OfficerLocation, 0, len(r.officers))
	for _, loc := range r.officers {
		c := *loc
		out = append(out, &c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OfficerID < out[j].OfficerID })
	return out
}

// Available reports whether loc can be offered an alert at now.
func (r *Registry) Available(loc *model.OfficerLocation, now time.Time) bool {
	return loc.OnDuty && now.Sub(loc.LastUpdated) <= r.staleAfter
}

// Nearby returns on-duty, fresh officers within radius meters of p, nearest first.
func (r *Registry) Nearby(p geo.Point, radius float64) ([]Candidate, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	box := boundingBox(p, radius)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Candidate
	for _, loc := range r.officers {
		if !r.Available(loc, now) || !box.contains(loc.Location) {
			continue
		}
		d, err := geo.Distance(p, loc.Location)
		if err != nil || d > radius {
			continue
		}
		out = append(out, Candidate{OfficerLocation: *loc, DistanceMeters: d})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].OfficerID < out[j].OfficerID
	})
	return out, nil
}

// Counts returns the number of tracked and currently available officers.
func (r *Registry) Counts() (tracked, available int) {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, loc := range r.officers {
		if r.Available(loc, now) {
			available++
		}
	}
	return len(r.officers), available
}

type bbox struct {
	minLat, maxLat, minLon, maxLon float64
	all                            bool
}

// boundingBox is a cheap prefilter, padded by 1% so the exact distance check
// decides edge cases. It matches everything near the poles and across the
// antimeridian.
func boundingBox(p geo.Point, radius float64) bbox {
	dLat := radius * 1.01 / geo.EarthRadiusMeters * 180 / math.Pi
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if cosLat < 1e-6 || p.Lat+dLat > 90 || p.Lat-dLat < -90 {
		return bbox{all: true}
	}
	dLon := dLat / cosLat
	if p.Lon+dLon > 180 || p.Lon-dLon < -180 {
		return bbox{all: true}
	}
	return bbox{minLat: p.Lat - dLat, maxLat: p.Lat + dLat, minLon: p.Lon - dLon, maxLon: p.Lon + dLon}
}

func (b bbox) contains(p geo.Point) bool {
	if b.all {
		return true
	}
	return p.Lat >= b.minLat && p.Lat <= b.maxLat && p.Lon >= b.minLon && p.Lon <= b.maxLon
}
