package registry

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/athena/internal/athena/core/model"
	fsmutil "github.com/autopeer-io/athena/internal/pkg/util/fsm"
)

const (
	// EventResolve closes a case because the vehicle was recovered or the case solved.
	EventResolve = "event_resolve"
	// EventCancel withdraws a registration.
	EventCancel = "event_cancel"
)

// statusEvents maps a requested target status to the event that reaches it.
var statusEvents = map[model.VehicleStatus]string{
	model.VehicleResolved:  EventResolve,
	model.VehicleCancelled: EventCancel,
}

// newStatusMachine returns the lifecycle of one critical vehicle.
// onClose runs after the machine enters a terminal state.
func newStatusMachine(initial model.VehicleStatus, onClose func(ctx context.Context, e *fsm.Event) error) *fsm.FSM {
	events := fsm.Events{
		{Name: EventResolve, Src: []string{string(model.VehicleActive)}, Dst: string(model.VehicleResolved)},
		{Name: EventCancel, Src: []string{string(model.VehicleActive)}, Dst: string(model.VehicleCancelled)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(model.VehicleResolved):  fsmutil.WrapEvent(onClose),
		"enter_" + string(model.VehicleCancelled): fsmutil.WrapEvent(onClose),
	}

	return fsm.NewFSM(string(initial), events, callbacks)
}
