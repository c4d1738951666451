package dispatch

import (
	"github.com/looplab/fsm"

	"github.com/autopeer-io/athena/internal/athena/core/model"
)

const (
	EventAcknowledge = "event_acknowledge"
	EventExpire      = "event_expire"
	EventCancel      = "event_cancel"
)

// newAlertMachine returns the lifecycle of one intercept alert. Every event
// leaves PENDING for a terminal state.
func newAlertMachine() *fsm.FSM {
	pending := []string{string(model.AlertStatusPending)}
	return fsm.NewFSM(
		string(model.AlertStatusPending),
		fsm.Events{
			{Name: EventAcknowledge, Src: pending, Dst: string(model.AlertStatusAcknowledged)},
			{Name: EventExpire, Src: pending, Dst: string(model.AlertStatusExpired)},
			{Name: EventCancel, Src: pending, Dst: string(model.AlertStatusCancelled)},
		},
		fsm.Callbacks{},
	)
}
