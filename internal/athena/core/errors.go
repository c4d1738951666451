package core

import "errors"

// Validation errors.
var (
	// ErrInvalidEvent rejects a malformed inbound event. geo.ErrInvalidCoordinate
	// is wrapped alongside it when coordinates are the cause.
	ErrInvalidEvent = errors.New("invalid event")
)

// State errors.
var (
	ErrDuplicateRegistration  = errors.New("duplicate registration")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrVehicleNotFound        = errors.New("vehicle not found")
	ErrAlertNotFound          = errors.New("alert not found")
	ErrOfficerNotFound        = errors.New("officer not found")
)

// ErrOutOfOrderSighting is returned when a sighting is older than the newest
// in-order sighting of the vehicle. The sighting is still stored.
var ErrOutOfOrderSighting = errors.New("out-of-order sighting")

// ErrInsufficientHistory means too few recent sightings to estimate motion.
var ErrInsufficientHistory = errors.New("insufficient sighting history")
