package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/wargadesa/desaflow/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

// eventsByKind converts each kind's domain.Transition table into
// looplab/fsm EventDesc format. Transitions with the same event+destination
// collapse into a single EventDesc with multiple source states.
var eventsByKind = buildEvents()

func buildEvents() map[domain.Kind][]loopfsm.EventDesc {
	out := make(map[domain.Kind][]loopfsm.EventDesc, len(domain.Specs))

	for kind, spec := range domain.Specs {
		type key struct {
			event string
			dst   string
		}
		grouped := make(map[key][]string)
		order := make([]key, 0)

		for _, t := range spec.Transitions {
			k := key{event: string(t.Event), dst: string(t.Dst)}
			if _, exists := grouped[k]; !exists {
				order = append(order, k)
			}
			grouped[k] = append(grouped[k], string(t.Src))
		}

		descs := make([]loopfsm.EventDesc, 0, len(order))
		for _, k := range order {
			descs = append(descs, loopfsm.EventDesc{
				Name: k.event,
				Src:  grouped[k],
				Dst:  k.dst,
			})
		}
		out[kind] = descs
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// It creates a short-lived FSM instance per Apply call, initialized with
// the request's current status, because looplab/fsm is stateful (it tracks
// the current state internally).
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply checks if the event is valid from the current status of the given
// kind and returns the destination status. Returns a
// domain.InvalidTransitionError if the transition is not allowed.
func (v *Validator) Apply(ctx context.Context, kind domain.Kind, current domain.Status, event domain.Event) (domain.Status, error) {
	events, ok := eventsByKind[kind]
	if !ok {
		return "", &domain.InvalidTransitionError{Kind: kind, Current: current, Event: event}
	}

	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(event)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &noTransition) {
			return "", &domain.InvalidTransitionError{
				Kind:    kind,
				Current: current,
				Event:   event,
			}
		}
		return "", err
	}

	return domain.Status(machine.Current()), nil
}
