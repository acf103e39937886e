package sim

import (
	"testing"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
)

func TestSelectPicksHighestPrecedence(t *testing.T) {
	cases := []struct {
		name       string
		current    domain.LineState
		candidates []domain.LineState
		want       domain.LineState
		changed    bool
	}{
		{"fault beats microstop", domain.StateRunning,
			[]domain.LineState{domain.StateMicrostop, domain.StateFault, domain.StateRunning},
			domain.StateFault, true},
		{"fault overrides open microstop", domain.StateMicrostop,
			[]domain.LineState{domain.StateMicrostop, domain.StateFault},
			domain.StateFault, true},
		{"cip beats changeover", domain.StateIdle,
			[]domain.LineState{domain.StateChangeover, domain.StateCIP},
			domain.StateCIP, true},
		{"running when only running", domain.StateIdle,
			[]domain.LineState{domain.StateRunning, domain.StateIdle},
			domain.StateRunning, true},
		{"no change when current wins", domain.StateRunning,
			[]domain.LineState{domain.StateRunning, domain.StateIdle},
			domain.StateRunning, false},
		{"microstop from running", domain.StateRunning,
			[]domain.LineState{domain.StateMicrostop, domain.StateRunning},
			domain.StateMicrostop, true},
		{"stopped beats microstop", domain.StateRunning,
			[]domain.LineState{domain.StateMicrostop, domain.StateStopped, domain.StateRunning},
			domain.StateStopped, true},
		{"idle fallback", domain.StateRunning,
			[]domain.LineState{domain.StateIdle},
			domain.StateIdle, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cand := map[domain.LineState]bool{}
			for _, s := range tc.candidates {
				cand[s] = true
			}
			got, changed := Select(tc.current, cand)
			if got != tc.want || changed != tc.changed {
				t.Fatalf("Select(%s) = %s changed=%t, want %s changed=%t",
					tc.current, got, changed, tc.want, tc.changed)
			}
		})
	}
}

func TestSelectedTargetIsAlwaysAllowed(t *testing.T) {
	all := []domain.LineState{
		domain.StateIdle, domain.StateRunning, domain.StateMicrostop,
		domain.StateStopped, domain.StateFault, domain.StateChangeover,
		domain.StateCIP, domain.StateStarved, domain.StateBlocked,
	}

	// Exhaustive: every candidate subset is a bitmask over the state list.
	for _, current := range all {
		for mask := 0; mask < 1<<len(all); mask++ {
			cand := map[domain.LineState]bool{}
			for i, s := range all {
				if mask&(1<<i) != 0 {
					cand[s] = true
				}
			}
			target, changed := Select(current, cand)
			if changed && !Allowed(current, target) {
				t.Fatalf("Select(%s, %v) chose disallowed %s", current, cand, target)
			}
			if !changed && target != current {
				t.Fatalf("no-change result must return current state")
			}
		}
	}
}

func TestStateRegisterCodes(t *testing.T) {
	if domain.StateIdle.RegisterCode() != 0 || domain.StateRunning.RegisterCode() != 1 ||
		domain.StateMicrostop.RegisterCode() != 2 || domain.StateStopped.RegisterCode() != 3 ||
		domain.StateFault.RegisterCode() != 4 || domain.StateChangeover.RegisterCode() != 5 ||
		domain.StateCIP.RegisterCode() != 6 {
		t.Fatalf("line_state enum does not match the documented encoding")
	}
	// STARVED/BLOCKED fold into STOPPED at the register surface.
	if domain.StateStarved.RegisterCode() != 3 || domain.StateBlocked.RegisterCode() != 3 {
		t.Fatalf("starved/blocked must publish as STOPPED")
	}
}

func TestStopCodeEncoding(t *testing.T) {
	cases := map[string]uint16{
		"MS01": 1, "MS10": 10, "ST01": 11, "ST04": 14, "ST10": 20,
		"BD-M1": 21, "BD-M2": 22, "BD-M3": 23,
	}
	for code, want := range cases {
		if got := domain.StopCodeValue(code); got != want {
			t.Fatalf("StopCodeValue(%s) = %d, want %d", code, got, want)
		}
		if name := domain.StopCodeName(want); name != code {
			t.Fatalf("StopCodeName(%d) = %s, want %s", want, name, code)
		}
	}
	if domain.StopCodeValue("") != 0 {
		t.Fatalf("empty stop code must encode 0")
	}
}
