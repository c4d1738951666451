// Package registry keeps the critical and violation watchlists and matches
// identifications against them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	fsmutil "github.com/autopeer-io/athena/internal/pkg/util/fsm"
	"github.com/autopeer-io/athena/pkg/log"
)

// Config holds the match thresholds applied to the identification's overall confidence.
type Config struct {
	CriticalThreshold  float64
	ViolationThreshold float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{CriticalThreshold: 0.90, ViolationThreshold: 0.80}
}

// MatchKind tells which watchlist produced a match.
type MatchKind string

const (
	KindCritical  MatchKind = "critical"
	KindViolation MatchKind = "violation"
)

// Match is one watchlist hit. Exactly one of Critical and Violation is set.
type Match struct {
	Kind      MatchKind
	VehicleID string
	Critical  *model.CriticalVehicle
	Violation *model.ViolationVehicle

	// LowConfidenceSecondary is set when make or model disagree with the record.
	// The plate still matched, so the hit stands.
	LowConfidenceSecondary bool
}

// Snapshot describes the matched vehicle as seen by the camera.
func (m *Match) Snapshot(ident *model.Identification) model.VehicleSnapshot {
	s := model.VehicleSnapshot{
		Plate: ident.NormalizedPlate(),
		Make:  ident.Make,
		Model: ident.Model,
		Color: ident.Color,
	}
	switch m.Kind {
	case KindCritical:
		s.CaseType = m.Critical.CaseType
		s.Priority = m.Critical.Priority
		if s.Make == "" {
			s.Make = m.Critical.Make
		}
		if s.Model == "" {
			s.Model = m.Critical.Model
		}
	case KindViolation:
		s.ViolationType = m.Violation.ViolationType
	}
	return s
}

// MatchResult separates eligible hits from hits whose confidence was too low.
type MatchResult struct {
	Matches        []Match
	BelowThreshold []Match
}

// Empty reports whether the plate is on no watchlist at all.
func (r MatchResult) Empty() bool {
	return len(r.Matches) == 0 && len(r.BelowThreshold) == 0
}

type criticalEntry struct {
	vehicle *model.CriticalVehicle
	machine *fsm.FSM
}

// Registry is safe for concurrent use. Status transitions are serialized per vehicle id.
type Registry struct {
	cfg   Config
	clock clock.PassiveClock
	log   log.Logger

	mu            sync.RWMutex
	critical      map[string]*criticalEntry
	activeByPlate map[string]string
	violations    map[string]*model.ViolationVehicle

	transitions keymutex.KeyMutex
}

// New returns an empty registry.
func New(cfg Config, clk clock.PassiveClock, logger log.Logger) *Registry {
	return &Registry{
		cfg:           cfg,
		clock:         clk,
		log:           logger.WithName("registry"),
		critical:      make(map[string]*criticalEntry),
		activeByPlate: make(map[string]string),
		violations:    make(map[string]*model.ViolationVehicle),
		transitions:   keymutex.NewHashed(0),
	}
}

// RegisterCritical stores v as ACTIVE. An id is generated when v.ID is empty.
func (r *Registry) RegisterCritical(ctx context.Context, v *model.CriticalVehicle) (*model.CriticalVehicle, error) {
	plate := model.NormalizePlate(v.Plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate is required", core.ErrInvalidEvent)
	}
	if !v.CaseType.Valid() {
		return nil, fmt.Errorf("%w: case type %q", core.ErrInvalidEvent, v.CaseType)
	}
	if !v.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", core.ErrInvalidEvent, v.Priority)
	}

	stored := *v
	stored.Plate = plate
	stored.Status = model.VehicleActive
	stored.RegisteredAt = r.clock.Now()
	stored.ClosedAt = nil
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.activeByPlate[plate]; ok {
		return nil, fmt.Errorf("%w: plate %s is already active as %s", core.ErrDuplicateRegistration, plate, id)
	}
	if _, ok := r.critical[stored.ID]; ok {
		return nil, fmt.Errorf("%w: vehicle id %s already exists", core.ErrDuplicateRegistration, stored.ID)
	}

	entry := &criticalEntry{vehicle: &stored}
	entry.machine = newStatusMachine(model.VehicleActive, r.closeCallback(entry))

	r.critical[stored.ID] = entry
	r.activeByPlate[plate] = stored.ID

	r.log.Info("Critical vehicle registered", "vehicleID", stored.ID, "plate", plate,
		"caseType", stored.CaseType, "priority", stored.Priority)

	out := stored
	return &out, nil
}

// UpdateStatus moves a critical vehicle from ACTIVE to RESOLVED or CANCELLED.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status model.VehicleStatus) (*model.CriticalVehicle, error) {
	r.transitions.LockKey(id)
	defer func() { _ = r.transitions.UnlockKey(id) }()

	r.mu.RLock()
	entry, ok := r.critical[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrVehicleNotFound, id)
	}

	event, ok := statusEvents[status]
	if !ok {
		return nil, fmt.Errorf("%w: cannot move %s to %q", core.ErrInvalidStateTransition, id, status)
	}

	if err := entry.machine.Event(ctx, event); err != nil {
		if fsmutil.IsRejected(err) {
			return nil, fmt.Errorf("%w: %s is %s", core.ErrInvalidStateTransition, id, entry.machine.Current())
		}
		return nil, err
	}

	r.mu.RLock()
	out := *entry.vehicle
	r.mu.RUnlock()

	r.log.Info("Critical vehicle closed", "vehicleID", id, "status", out.Status)
	return &out, nil
}

// closeCallback commits a terminal status to the stored record.
func (r *Registry) closeCallback(entry *criticalEntry) func(ctx context.Context, e *fsm.Event) error {
	return func(ctx context.Context, e *fsm.Event) error {
		now := r.clock.Now()

		r.mu.Lock()
		defer r.mu.Unlock()

		entry.vehicle.Status = model.VehicleStatus(e.Dst)
		entry.vehicle.ClosedAt = &now
		if r.activeByPlate[entry.vehicle.Plate] == entry.vehicle.ID {
			delete(r.activeByPlate, entry.vehicle.Plate)
		}
		return nil
	}
}

// WhileActive runs fn under the transition lock of critical vehicle id if the
// vehicle is still ACTIVE, and reports whether fn ran. A concurrent
// UpdateStatus commits either before fn is skipped or after fn returns.
func (r *Registry) WhileActive(id string, fn func()) bool {
	r.transitions.LockKey(id)
	defer func() { _ = r.transitions.UnlockKey(id) }()

	r.mu.RLock()
	entry, ok := r.critical[id]
	active := ok && entry.vehicle.Status == model.VehicleActive
	r.mu.RUnlock()
	if !active {
		return false
	}
	fn()
	return true
}

// GetCritical returns a copy of the record.
func (r *Registry) GetCritical(id string) (*model.CriticalVehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.critical[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrVehicleNotFound, id)
	}
	out := *entry.vehicle
	return &out, nil
}

// ListCritical returns all critical vehicles, optionally filtered by status,
// ordered by registration time.
func (r *Registry) ListCritical(status model.VehicleStatus) []*model.CriticalVehicle {
	r.mu.RLock()
	out := make([]*model.CriticalVehicle, 0, len(r.critical))
	for _, entry := range r.critical {
		if status != "" && entry.vehicle.Status != status {
			continue
		}
		v := *entry.vehicle
		out = append(out, &v)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out
}

// PutViolation inserts or replaces a violation record keyed by its normalized plate.
func (r *Registry) PutViolation(v *model.ViolationVehicle) (*model.ViolationVehicle, error) {
	stored, err := r.prepareViolation(v)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.violations[stored.Plate] = stored
	r.mu.Unlock()

	c := *stored
	return &c, nil
}

// RemoveViolation drops a plate. It reports whether the plate was present.
func (r *Registry) RemoveViolation(plate string) bool {
	plate = model.NormalizePlate(plate)

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.violations[plate]
	delete(r.violations, plate)
	return ok
}

// ReplaceViolations swaps the whole violation list atomically. Invalid
// entries are skipped and reported together; valid ones are still loaded.
func (r *Registry) ReplaceViolations(list []*model.ViolationVehicle) (int, error) {
	next := make(map[string]*model.ViolationVehicle, len(list))
	var errs []error
	for i, v := range list {
		stored, err := r.prepareViolation(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		next[stored.Plate] = stored
	}

	r.mu.Lock()
	r.violations = next
	r.mu.Unlock()

	return len(next), errors.Join(errs...)
}

// ListViolations returns the violation list ordered by plate.
func (r *Registry) ListViolations() []*model.ViolationVehicle {
	r.mu.RLock()
	out := make([]*model.ViolationVehicle, 0, len(r.violations))
	for _, v := range r.violations {
		c := *v
		out = append(out, &c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Plate < out[j].Plate })
	return out
}

func (r *Registry) prepareViolation(v *model.ViolationVehicle) (*model.ViolationVehicle, error) {
	plate := model.NormalizePlate(v.Plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate is required", core.ErrInvalidEvent)
	}
	if !v.ViolationType.Valid() {
		return nil, fmt.Errorf("%w: violation type %q", core.ErrInvalidEvent, v.ViolationType)
	}

	stored := *v
	stored.Plate = plate
	if stored.Severity == "" {
		stored.Severity = model.SeverityLow
	}
	if !stored.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", core.ErrInvalidEvent, v.Severity)
	}
	if stored.AddedAt.IsZero() {
		stored.AddedAt = r.clock.Now()
	}
	return &stored, nil
}

// Match looks the identification's plate up in both watchlists. Only an
// ACTIVE critical vehicle can match. Confidence is compared against the
// threshold of the list that produced the hit.
func (r *Registry) Match(ident *model.Identification) MatchResult {
	plate := ident.NormalizedPlate()
	confidence := ident.OverallConfidence()

	var res MatchResult

	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.activeByPlate[plate]; ok {
		v := *r.critical[id].vehicle
		m := Match{
			Kind:                   KindCritical,
			VehicleID:              v.ID,
			Critical:               &v,
			LowConfidenceSecondary: secondaryMismatch(ident, v.Make, v.Model),
		}
		if confidence >= r.cfg.CriticalThreshold {
			res.Matches = append(res.Matches, m)
		} else {
			res.BelowThreshold = append(res.BelowThreshold, m)
		}
	}

	if viol, ok := r.violations[plate]; ok {
		v := *viol
		m := Match{
			Kind:                   KindViolation,
			VehicleID:              v.ID(),
			Violation:              &v,
			LowConfidenceSecondary: secondaryMismatch(ident, v.Make, v.Model),
		}
		if confidence >= r.cfg.ViolationThreshold {
			res.Matches = append(res.Matches, m)
		} else {
			res.BelowThreshold = append(res.BelowThreshold, m)
		}
	}

	return res
}

// secondaryMismatch compares make and model loosely. Unknown values on either
// side never count as a mismatch.
func secondaryMismatch(ident *model.Identification, wantMake, wantModel string) bool {
	return !looseEqual(ident.Make, wantMake) || !looseEqual(ident.Model, wantModel)
}

func looseEqual(seen, want string) bool {
	seen = strings.ToLower(strings.TrimSpace(seen))
	want = strings.ToLower(strings.TrimSpace(want))
	if seen == "" || want == "" {
		return true
	}
	return strings.Contains(seen, want) || strings.Contains(want, seen)
}
