package dispatch

import "github.com/juju/errors"

const (
	// ErrRegistryClosed is returned by Add once the registry has been closed.
	ErrRegistryClosed = errors.ConstError("subscription registry closed")

	// ErrInvalidTransition is returned for a lifecycle change the worker
	// state machine does not allow.
	ErrInvalidTransition = errors.ConstError("invalid state transition")
)
