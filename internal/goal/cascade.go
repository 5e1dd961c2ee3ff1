package goal

import "compass/api/internal/store"

// Transition is the input to the cascade rules engine.
type Transition struct {
	OldStatus Status
	NewStatus Status
	Reason    string
}

type effectFunc func(t Transition, effects *store.TransitionEffects)

// cascadeRules maps a transition's target status to the side effects it
// triggers. Rules for a new transition are added here without touching the
// existing ones. Old status is available on Transition for rules that need
// it; the single rule today does not.
var cascadeRules = map[Status][]effectFunc{
	StatusSuspended: {suspendNonTerminalObjectives},
}

func suspendNonTerminalObjectives(t Transition, effects *store.TransitionEffects) {
	effects.SuspendNonTerminalObjectives = true
	effects.SuspendReason = t.Reason
}

// CascadeEffects computes the side effects of one transition. Pure: no I/O,
// safe to call repeatedly.
func CascadeEffects(t Transition) store.TransitionEffects {
	var effects store.TransitionEffects
	for _, apply := range cascadeRules[t.NewStatus] {
		apply(t, &effects)
	}
	return effects
}
