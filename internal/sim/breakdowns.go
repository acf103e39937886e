package sim

import (
	"math/rand"
	"time"
)

// Breakdown describes a major (fault-latching) or minor (operator-coded
// stop) equipment failure.
type Breakdown struct {
	Code        string
	Name        string
	Station     string
	Severity    string // Major | Minor
	StopCode    string
	Description string

	// Apply/Revert force and restore the affected signals for majors.
	Apply  func(b *Bank)
	Revert func(b *Bank)
}

// MajorBreakdowns latch a fault_code and disrupt one station's signals.
var MajorBreakdowns = map[string]Breakdown{
	"BD-M1": {
		Code: "BD-M1", Name: "Filler Scale Failure", Station: "Filler01",
		Severity: "Major", StopCode: "BD-M1",
		Description: "Load cell on Filler01 scale unresponsive; fill stabilisation disabled.",
		Apply:       func(b *Bank) { b.SetBool(RScaleStable, false) },
		Revert:      func(b *Bank) { b.SetBool(RScaleStable, true) },
	},
	"BD-M2": {
		Code: "BD-M2", Name: "Capper Torque Sensor Failure", Station: "Capper01",
		Severity: "Major", StopCode: "BD-M2",
		Description: "Torque sensor on Capper01 returning null; all torque readings invalid.",
		Apply:       func(b *Bank) { b.SetBool(RTorqueInSpec, false) },
		Revert:      func(b *Bank) { b.SetBool(RTorqueInSpec, true) },
	},
	"BD-M3": {
		Code: "BD-M3", Name: "Checkweigher Loadcell Failure", Station: "Checkweigher01",
		Severity: "Major", StopCode: "BD-M3",
		Description: "Checkweigher01 load cell drift; rezero held active.",
		Apply:       func(b *Bank) { b.SetBool(RRezeroActive, true) },
		Revert:      func(b *Bank) { b.SetBool(RRezeroActive, false) },
	},
}

// MinorBreakdowns are STOPPED episodes with an operator-style stop code and
// no fault latch.
var MinorBreakdowns = []Breakdown{
	{Code: "BD-MINOR-PE", Name: "Photoeye Misalignment", Station: "Infeed01",
		Severity: "Minor", StopCode: "BD-MINOR-PE",
		Description: "Photoeye on Infeed01 misaligned; bottle_presence unreliable."},
	{Code: "BD-MINOR-LS", Name: "Label Sensor Cleaning", Station: "Labeller01",
		Severity: "Minor", StopCode: "BD-MINOR-LS",
		Description: "Label sensor on Labeller01 contaminated; label_sensor_ok flickering."},
	{Code: "BD-MINOR-CA", Name: "Cap Chute Adjustment", Station: "Capper01",
		Severity: "Minor", StopCode: "BD-MINOR-CA",
		Description: "Cap chute on Capper01 jammed; cap_feed_ok false."},
}

// BreakdownByCode looks up a major or minor breakdown.
func BreakdownByCode(code string) (Breakdown, bool) {
	if bd, ok := MajorBreakdowns[code]; ok {
		return bd, true
	}
	for _, bd := range MinorBreakdowns {
		if bd.Code == code {
			return bd, true
		}
	}
	return Breakdown{}, false
}

// SampleMajorDuration draws a major breakdown length around the nominal
// duration with the configured jitter.
func SampleMajorDuration(nominal time.Duration, jitterPct float64, r *rand.Rand) time.Duration {
	jitter := (r.Float64()*2 - 1) * jitterPct / 100
	d := time.Duration(float64(nominal) * (1 + jitter))
	if d <= 0 {
		d = nominal
	}
	return d
}

// SampleMinorDuration draws a minor breakdown length uniformly.
func SampleMinorDuration(lo, hi time.Duration, r *rand.Rand) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.Float64()*float64(hi-lo))
}
