package sim

import (
	"math/rand"
	"time"
)

// Microstop duration bounds, hard limits over any configured range.
const (
	MicrostopMin = 3 * time.Second
	MicrostopMax = 120 * time.Second
)

// Typed fingerprints, one per microstop code. The fields are the published
// telemetry vocabulary; they serialise to the documented JSON shape when
// attached to MicrostopStarted/MicrostopEnded events.

type MS01Fingerprint struct {
	BottlePresence bool    `json:"bottle_presence"`
	InfeedRateBPM  float64 `json:"infeed_rate_bpm"`
}

type MS02Fingerprint struct {
	ScaleStable     bool  `json:"scale_stable"`
	FillTimeDeltaMS int64 `json:"fill_time_delta_ms"`
}

type MS03Fingerprint struct {
	DripSensor      bool  `json:"drip_sensor"`
	PostFillDelayMS int64 `json:"post_fill_delay_ms"`
}

type MS04Fingerprint struct {
	CapFeedOK bool `json:"cap_feed_ok"`
}

type MS05Fingerprint struct {
	TorqueInSpecToggleCount int `json:"torque_in_spec_toggle_count"`
}

type MS06Fingerprint struct {
	RezeroActive bool `json:"rezero_active"`
}

type MS07Fingerprint struct {
	LabelSensorOKToggles int `json:"label_sensor_ok_toggles"`
}

type MS08Fingerprint struct {
	RescanCount int `json:"rescan_count"`
}

type MS09Fingerprint struct {
	PusherCycleMS int64 `json:"pusher_cycle_ms"`
}

type MS10Fingerprint struct {
	OutfeedFull     bool    `json:"outfeed_full"`
	LineSpeedDipPct float64 `json:"line_speed_dip_pct"`
}

// Microstop describes one short-interruption kind: its duration range, the
// register signals it forces while active, and the fingerprint captured at
// episode entry.
type Microstop struct {
	Code       string
	Name       string
	Station    string
	DurationLo time.Duration
	DurationHi time.Duration
	Weight     float64

	// NewFingerprint samples the entry-time fingerprint.
	NewFingerprint func(r *rand.Rand) any
	// Apply forces the affected signals onto the staged bank.
	Apply func(b *Bank, r *rand.Rand)
	// Revert restores the affected signals on episode exit.
	Revert func(b *Bank)
}

// Microstops is the MS01–MS10 library, in code order.
var Microstops = []Microstop{
	{
		Code: "MS01", Name: "Infeed Misfeed", Station: "Infeed01",
		DurationLo: 6 * time.Second, DurationHi: 25 * time.Second, Weight: 12,
		NewFingerprint: func(r *rand.Rand) any {
			return MS01Fingerprint{
				BottlePresence: r.Intn(3) == 2,
				InfeedRateBPM:  30 + r.Float64()*30,
			}
		},
		Apply: func(b *Bank, r *rand.Rand) {
			b.SetBool(RBottlePresence, r.Intn(4) == 3) // presence flicker
			hi, lo := b.Staged(RInfeedRate), b.Staged(RInfeedRate+1)
			b.SetFloat32(RInfeedRate, UnpackFloat32(hi, lo)*0.5)
		},
		Revert: func(b *Bank) { b.SetBool(RBottlePresence, true) },
	},
	{
		Code: "MS02", Name: "Fill Stabilisation Wait", Station: "Filler01",
		DurationLo: 8 * time.Second, DurationHi: 40 * time.Second, Weight: 18,
		NewFingerprint: func(r *rand.Rand) any {
			return MS02Fingerprint{
				ScaleStable:     false,
				FillTimeDeltaMS: int64(150 + r.Intn(800)),
			}
		},
		Apply: func(b *Bank, r *rand.Rand) {
			b.SetBool(RScaleStable, false)
			factor := 1.15 + r.Float64()*0.25
			cur := UnpackUint32(b.Staged(RFillTimeMS), b.Staged(RFillTimeMS+1))
			b.SetUint32(RFillTimeMS, uint32(float64(cur)*factor))
		},
		Revert: func(b *Bank) { b.SetBool(RScaleStable, true) },
	},
	{
		Code: "MS03", Name: "Nozzle Drip Detect", Station: "Filler01",
		DurationLo: 5 * time.Second, DurationHi: 20 * time.Second, Weight: 8,
		NewFingerprint: func(r *rand.Rand) any {
			return MS03Fingerprint{DripSensor: true, PostFillDelayMS: int64(300 + r.Intn(500))}
		},
		Apply:  func(b *Bank, r *rand.Rand) { b.SetBool(RDripSensor, true) },
		Revert: func(b *Bank) { b.SetBool(RDripSensor, false) },
	},
	{
		Code: "MS04", Name: "Cap Feed Stutter", Station: "Capper01",
		DurationLo: 10 * time.Second, DurationHi: 50 * time.Second, Weight: 10,
		NewFingerprint: func(r *rand.Rand) any {
			return MS04Fingerprint{CapFeedOK: false}
		},
		Apply:  func(b *Bank, r *rand.Rand) { b.SetBool(RCapFeedOK, false) },
		Revert: func(b *Bank) { b.SetBool(RCapFeedOK, true) },
	},
	{
		Code: "MS05", Name: "Torque Recheck", Station: "Capper01",
		DurationLo: 12 * time.Second, DurationHi: 60 * time.Second, Weight: 9,
		NewFingerprint: func(r *rand.Rand) any {
			return MS05Fingerprint{TorqueInSpecToggleCount: 1 + r.Intn(3)}
		},
		Apply:  func(b *Bank, r *rand.Rand) { b.SetBool(RTorqueInSpec, false) },
		Revert: func(b *Bank) { b.SetBool(RTorqueInSpec, true) },
	},
	{
		Code: "MS06", Name: "Checkweigher Re-zero", Station: "Checkweigher01",
		DurationLo: 10 * time.Second, DurationHi: 90 * time.Second, Weight: 11,
		NewFingerprint: func(r *rand.Rand) any {
			return MS06Fingerprint{RezeroActive: true}
		},
		Apply:  func(b *Bank, r *rand.Rand) { b.SetBool(RRezeroActive, true) },
		Revert: func(b *Bank) { b.SetBool(RRezeroActive, false) },
	},
	{
		Code: "MS07", Name: "Label Peelback", Station: "Labeller01",
		DurationLo: 8 * time.Second, DurationHi: 45 * time.Second, Weight: 10,
		NewFingerprint: func(r *rand.Rand) any {
			return MS07Fingerprint{LabelSensorOKToggles: 1 + r.Intn(3)}
		},
		Apply:  func(b *Bank, r *rand.Rand) { b.SetBool(RLabelSensorOK, false) },
		Revert: func(b *Bank) { b.SetBool(RLabelSensorOK, true) },
	},
	{
		Code: "MS08", Name: "Barcode Re-scan", Station: "Scanner01",
		DurationLo: 5 * time.Second, DurationHi: 30 * time.Second, Weight: 9,
		NewFingerprint: func(r *rand.Rand) any {
			return MS08Fingerprint{RescanCount: 1 + r.Intn(3)}
		},
		Apply: func(b *Bank, r *rand.Rand) {
			b.SetBool(RBarcodeOK, false)
			b.SetUint16(RRescanCount, uint16(1+r.Intn(3)))
		},
		Revert: func(b *Bank) { b.SetBool(RBarcodeOK, true) },
	},
	{
		Code: "MS09", Name: "Reject Pusher Slow Return", Station: "RejectPusher01",
		DurationLo: 8 * time.Second, DurationHi: 35 * time.Second, Weight: 7,
		NewFingerprint: func(r *rand.Rand) any {
			return MS09Fingerprint{PusherCycleMS: int64(900 + r.Intn(1100))}
		},
		Apply: func(b *Bank, r *rand.Rand) {
			b.SetUint32(RPusherCycleMS, uint32(900+r.Intn(1100)))
		},
		Revert: func(b *Bank) {},
	},
	{
		Code: "MS10", Name: "Outfeed Accumulation Nudge", Station: "Line01",
		DurationLo: 15 * time.Second, DurationHi: 120 * time.Second, Weight: 6,
		NewFingerprint: func(r *rand.Rand) any {
			return MS10Fingerprint{OutfeedFull: true, LineSpeedDipPct: 5 + r.Float64()*15}
		},
		// Speed dip shows up through the rolling line_speed computation.
		Apply:  func(b *Bank, r *rand.Rand) {},
		Revert: func(b *Bank) {},
	},
}

var microstopsByCode = func() map[string]*Microstop {
	m := make(map[string]*Microstop, len(Microstops))
	for i := range Microstops {
		m[Microstops[i].Code] = &Microstops[i]
	}
	return m
}()

// MicrostopByCode returns the library entry for a code, or nil.
func MicrostopByCode(code string) *Microstop {
	return microstopsByCode[code]
}

// SampleMicrostopDuration draws uniformly from the kind's range, clamped
// to the hard [MicrostopMin, MicrostopMax] bounds.
func SampleMicrostopDuration(ms *Microstop, r *rand.Rand) time.Duration {
	d := ms.DurationLo + time.Duration(r.Float64()*float64(ms.DurationHi-ms.DurationLo))
	if d < MicrostopMin {
		d = MicrostopMin
	}
	if d > MicrostopMax {
		d = MicrostopMax
	}
	return d
}

// DefaultMicrostopRates splits an aggregate mean inter-arrival interval
// across the kinds in proportion to their library weights, returning
// per-hour rates by code.
func DefaultMicrostopRates(meanIntervalS float64) map[string]float64 {
	var total float64
	for _, ms := range Microstops {
		total += ms.Weight
	}
	rates := make(map[string]float64, len(Microstops))
	aggregatePerHour := 3600.0 / meanIntervalS
	for _, ms := range Microstops {
		rates[ms.Code] = aggregatePerHour * ms.Weight / total
	}
	return rates
}

// largeVolumeSKUs get a higher fill-stabilisation weight.
var largeVolumeSKUs = map[string]bool{
	"LEM-2L-IE": true, "LEM-6L-IE": true, "COL-2L-IE": true,
}

// MS02Bias is the rate multiplier for MS02 on large-volume SKUs.
func MS02Bias(skuID string) float64 {
	if largeVolumeSKUs[skuID] {
		return 1.8
	}
	return 1.0
}
