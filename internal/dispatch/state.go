package dispatch

import (
	"github.com/juju/errors"

	"subjectbus/internal/core"
)

// trigger names an input to the worker lifecycle.
type trigger string

const (
	triggerDrain trigger = "drain"
	triggerStop  trigger = "stop"
)

// transitions lists every allowed (state, trigger) pair. Draining again is
// allowed so Discard may follow Drain.
var transitions = map[core.State]map[trigger]core.State{
	core.StateActive: {
		triggerDrain: core.StateDraining,
	},
	core.StateDraining: {
		triggerDrain: core.StateDraining,
		triggerStop:  core.StateStopped,
	},
}

// lifecycle holds the current state of a worker. It is not safe for
// concurrent use; the owning worker guards it.
type lifecycle struct {
	current core.State
}

// fire moves the lifecycle according to t.
func (l *lifecycle) fire(t trigger) error {
	to, ok := transitions[l.current][t]
	if !ok {
		return errors.Annotatef(ErrInvalidTransition, "%s on %s", t, l.current)
	}
	l.current = to
	return nil
}
