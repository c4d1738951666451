package model

import (
	"strings"
	"time"
	"unicode"
)

// CaseType is the public-safety case a critical vehicle is tracked for.
type CaseType string

const (
	CaseKidnapping CaseType = "KIDNAPPING"
	CaseHitAndRun  CaseType = "HIT_AND_RUN"
	CaseStolen     CaseType = "STOLEN"
)

func (c CaseType) Valid() bool {
	switch c {
	case CaseKidnapping, CaseHitAndRun, CaseStolen:
		return true
	}
	return false
}

// Priority of a critical vehicle case.
type Priority string

const (
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// VehicleStatus is the lifecycle state of a critical vehicle.
type VehicleStatus string

const (
	VehicleActive    VehicleStatus = "ACTIVE"
	VehicleResolved  VehicleStatus = "RESOLVED"
	VehicleCancelled VehicleStatus = "CANCELLED"
)

func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleActive, VehicleResolved, VehicleCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s VehicleStatus) Terminal() bool {
	return s == VehicleResolved || s == VehicleCancelled
}

// CriticalVehicle is a watch-listed vehicle. Records are never deleted; they
// are closed by moving to a terminal status.
type CriticalVehicle struct {
	ID           string        `json:"vehicle_id"`
	Plate        string        `json:"plate"`
	Make         string        `json:"make,omitempty"`
	Model        string        `json:"model,omitempty"`
	CaseType     CaseType      `json:"case_type"`
	CaseNumber   string        `json:"case_number,omitempty"`
	Priority     Priority      `json:"priority"`
	Status       VehicleStatus `json:"status"`
	RegisteredBy string        `json:"registered_by,omitempty"`
	RegisteredAt time.Time     `json:"registered_at"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
}

// ViolationType is the administrative violation attached to a vehicle.
type ViolationType string

const (
	ViolationExpiredPermit         ViolationType = "EXPIRED_PERMIT"
	ViolationUnpaidFine            ViolationType = "UNPAID_FINE"
	ViolationSuspendedRegistration ViolationType = "SUSPENDED_REGISTRATION"
)

func (v ViolationType) Valid() bool {
	switch v {
	case ViolationExpiredPermit, ViolationUnpaidFine, ViolationSuspendedRegistration:
		return true
	}
	return false
}

// Severity of a violation.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// ViolationVehicle is reference data loaded from the watchlist or registered
// over the API. Make and Model are optional and only used as a secondary check.
type ViolationVehicle struct {
	Plate         string        `json:"plate"`
	ViolationType ViolationType `json:"violation_type"`
	Severity      Severity      `json:"severity"`
	Details       string        `json:"details,omitempty"`
	Make          string        `json:"make,omitempty"`
	Model         string        `json:"model,omitempty"`
	AddedAt       time.Time     `json:"added_at"`
}

// ID is the history key of a violation vehicle.
func (v *ViolationVehicle) ID() string {
	return ViolationVehicleID(v.Plate)
}

// ViolationVehicleID derives the vehicle id used for a violation plate.
func ViolationVehicleID(plate string) string {
	return "violation-" + NormalizePlate(plate)
}

// VehicleSnapshot is the vehicle description carried inside an alert.
type VehicleSnapshot struct {
	Plate         string        `json:"plate"`
	Make          string        `json:"make,omitempty"`
	Model         string        `json:"model,omitempty"`
	Color         string        `json:"color,omitempty"`
	ViolationType ViolationType `json:"violation_type,omitempty"`
	CaseType      CaseType      `json:"case_type,omitempty"`
	Priority      Priority      `json:"priority,omitempty"`
}

// NormalizePlate upper-cases a plate and drops everything that is not a
// letter or digit, so "ka-01 ab 1234" and "KA01AB1234" compare equal.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range plate {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
