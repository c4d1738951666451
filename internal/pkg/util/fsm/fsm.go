// Package fsm holds small helpers around looplab/fsm shared by the lifecycle machines.
package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts a callback that returns an error to the fsm.Callback
// signature. A non-nil error is stored on the event and returned by FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsRejected reports whether err means the machine refused the event in its
// current state, as opposed to a callback failing.
func IsRejected(err error) bool {
	var (
		invalid    fsm.InvalidEventError
		unknown    fsm.UnknownEventError
		inProgress fsm.InTransitionError
		none       fsm.NoTransitionError
	)
	return errors.As(err, &invalid) ||
		errors.As(err, &unknown) ||
		errors.As(err, &inProgress) ||
		errors.As(err, &none)
}
