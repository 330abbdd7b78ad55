package visibility

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// State constants for statekit integration.
// These must remain untyped string constants for statekit.StateID compatibility.
const (
	StateEligible  = "eligible"
	StateShown     = "shown"
	StateDismissed = "dismissed"
	StateAccepted  = "accepted"
)

// Machine events.
const (
	EventEvaluate = "evaluate"
	EventAccept   = "accept"
	EventDismiss  = "dismiss"
	EventRescope  = "rescope"
)

// machineContext carries the inputs guards depend on.
type machineContext struct {
	CooldownElapsed bool
}

// next runs a single event through the throttle machine starting at from and
// returns the resulting status. ok is false when the event is not allowed in
// from or a guard rejected it.
func next(from Status, event string, cooldownElapsed bool) (Status, bool, error) {
	builder := statekit.NewMachine[machineContext]("visibility").
		WithInitial(statekit.StateID(from)).
		WithContext(machineContext{CooldownElapsed: cooldownElapsed}).
		WithGuard("cooldownElapsed", func(ctx machineContext, _ statekit.Event) bool {
			return ctx.CooldownElapsed
		})

	builder.State(StateEligible).
		On(EventEvaluate).Target(StateShown).
		Done()

	builder.State(StateShown).
		On(EventAccept).Target(StateAccepted).
		On(EventDismiss).Target(StateDismissed).
		On(EventRescope).Target(StateEligible).
		Done()

	builder.State(StateDismissed).
		On(EventEvaluate).Target(StateShown).Guard("cooldownElapsed").
		On(EventRescope).Target(StateEligible).
		Done()

	// Accepted is soft-terminal: only a new scope key leaves it.
	builder.State(StateAccepted).
		On(EventRescope).Target(StateEligible).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return from, false, fmt.Errorf("failed to build visibility machine: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	interp.Send(statekit.Event{Type: statekit.EventType(event)})

	to := Status(interp.State().Value)
	return to, to != from, nil
}
