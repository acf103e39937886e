package sim

import "github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"

// Precedence orders concurrent triggers, highest first. When several
// triggers are active in one tick, the highest-precedence permissible
// target wins.
var Precedence = []domain.LineState{
	domain.StateFault,
	domain.StateCIP,
	domain.StateChangeover,
	domain.StateBlocked,
	domain.StateStarved,
	domain.StateStopped,
	domain.StateMicrostop,
	domain.StateRunning,
	domain.StateIdle,
}

// allowedTransitions is the transition table. A target absent from its
// source's row is rejected by Select.
var allowedTransitions = map[domain.LineState][]domain.LineState{
	domain.StateIdle:       {domain.StateRunning, domain.StateChangeover, domain.StateCIP, domain.StateStopped, domain.StateFault},
	domain.StateRunning:    {domain.StateMicrostop, domain.StateStopped, domain.StateFault, domain.StateChangeover, domain.StateCIP, domain.StateStarved, domain.StateBlocked, domain.StateIdle},
	domain.StateMicrostop:  {domain.StateRunning, domain.StateFault, domain.StateStopped, domain.StateIdle},
	domain.StateStopped:    {domain.StateRunning, domain.StateIdle, domain.StateFault, domain.StateChangeover, domain.StateCIP},
	domain.StateFault:      {domain.StateRunning, domain.StateIdle, domain.StateStopped},
	domain.StateChangeover: {domain.StateIdle, domain.StateRunning, domain.StateCIP, domain.StateFault},
	domain.StateCIP:        {domain.StateIdle, domain.StateRunning, domain.StateFault},
	domain.StateStarved:    {domain.StateRunning, domain.StateStopped, domain.StateFault, domain.StateIdle},
	domain.StateBlocked:    {domain.StateRunning, domain.StateStopped, domain.StateFault, domain.StateIdle},
}

// Allowed reports whether from → to appears in the transition table.
func Allowed(from, to domain.LineState) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Select picks the target state for a set of active triggers: the
// highest-precedence candidate that is either the current state or a
// permissible transition target. The second return is false when no
// transition should occur.
func Select(current domain.LineState, candidates map[domain.LineState]bool) (domain.LineState, bool) {
	for _, s := range Precedence {
		if !candidates[s] {
			continue
		}
		if s == current {
			return current, false
		}
		if Allowed(current, s) {
			return s, true
		}
	}
	return current, false
}
