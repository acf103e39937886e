package sim

import (
	"fmt"
	"math"
	"sync"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
)

// Holding register indices, 0-indexed. Documentation addresses are
// index + 40001. The layout is the external contract; see the README
// register table.
const (
	// Line-level
	RLineState   = 0  // uint16, line_state enum
	RLineSpeed   = 1  // float32, bpm
	RGoodCount   = 3  // uint32, monotonic
	RRejectCnt   = 5  // uint32, monotonic
	ROrderIdx    = 7  // uint16, 0xFFFF=IDLE
	RSKUIdx      = 8  // uint16, 0xFFFF=IDLE
	RStopCode    = 9  // uint16
	RFaultCode   = 10 // uint16
	ROrderSeq    = 11 // uint16, 1-based
	RSimSpeedX10 = 12 // uint16, speed_factor × 10

	// Infeed01
	RBottlePresence = 14 // bool
	RInfeedRate     = 15 // float32, bpm
	RStarved        = 17 // bool
	RJamDetected    = 18 // bool

	// Filler01
	RTargetWeight = 20 // float32, g
	RActualWeight = 22 // float32, g
	RFillTimeMS   = 24 // uint32, ms
	RScaleStable  = 26 // bool
	RDripSensor   = 27 // bool

	// Capper01
	RTorqueTarget = 29 // float32, Ncm
	RTorqueActual = 31 // float32, Ncm
	RTorqueInSpec = 33 // bool
	RCapFeedOK    = 34 // bool

	// Checkweigher01
	RGrossWeight  = 36 // float32, g
	RWeightInSpec = 38 // bool
	RRezeroActive = 39 // bool

	// Labeller01
	RLabelApplied  = 41 // bool
	RLabelSensorOK = 42 // bool
	RLabelStock    = 43 // uint16, %

	// Scanner01
	RBarcodeOK   = 45 // bool
	RRescanCount = 46 // uint16

	// Labeller02
	RHazardRequired = 48 // bool
	RHazardApplied  = 49 // bool
	RHazardStock    = 50 // uint16, %

	// RejectPusher01
	RRejectTriggered = 52 // bool
	RRejectReason    = 53 // uint16
	RPusherCycleMS   = 54 // uint32, ms

	// TotalRegisters leaves headroom past the documented map.
	TotalRegisters = 100
)

// RegType is the wire encoding of a telemetry field.
type RegType uint8

const (
	TypeUint16 RegType = iota
	TypeUint32
	TypeFloat32
	TypeBool
)

// Words is the register footprint of the type.
func (t RegType) Words() int {
	if t == TypeUint32 || t == TypeFloat32 {
		return 2
	}
	return 1
}

// RegisterSpec describes one documented telemetry field. The table drives
// the decode path (test client, register tests); the simulator writes
// through the same R* address constants.
type RegisterSpec struct {
	Name    string
	Addr    int
	Type    RegType
	Station string
}

// RegisterMap is the documented layout, in address order.
var RegisterMap = []RegisterSpec{
	{"line_state", RLineState, TypeUint16, "Line01"},
	{"line_speed_bpm", RLineSpeed, TypeFloat32, "Line01"},
	{"good_count", RGoodCount, TypeUint32, "Line01"},
	{"reject_count", RRejectCnt, TypeUint32, "Line01"},
	{"order_index", ROrderIdx, TypeUint16, "Line01"},
	{"sku_index", RSKUIdx, TypeUint16, "Line01"},
	{"stop_code", RStopCode, TypeUint16, "Line01"},
	{"fault_code", RFaultCode, TypeUint16, "Line01"},
	{"order_seq", ROrderSeq, TypeUint16, "Line01"},
	{"sim_speed_x10", RSimSpeedX10, TypeUint16, "Line01"},
	{"bottle_presence", RBottlePresence, TypeBool, "Infeed01"},
	{"infeed_rate_bpm", RInfeedRate, TypeFloat32, "Infeed01"},
	{"starved", RStarved, TypeBool, "Infeed01"},
	{"jam_detected", RJamDetected, TypeBool, "Infeed01"},
	{"target_weight_g", RTargetWeight, TypeFloat32, "Filler01"},
	{"actual_weight_g", RActualWeight, TypeFloat32, "Filler01"},
	{"fill_time_ms", RFillTimeMS, TypeUint32, "Filler01"},
	{"scale_stable", RScaleStable, TypeBool, "Filler01"},
	{"drip_sensor", RDripSensor, TypeBool, "Filler01"},
	{"torque_target_ncm", RTorqueTarget, TypeFloat32, "Capper01"},
	{"torque_actual_ncm", RTorqueActual, TypeFloat32, "Capper01"},
	{"torque_in_spec", RTorqueInSpec, TypeBool, "Capper01"},
	{"cap_feed_ok", RCapFeedOK, TypeBool, "Capper01"},
	{"gross_weight_g", RGrossWeight, TypeFloat32, "Checkweigher01"},
	{"weight_in_spec", RWeightInSpec, TypeBool, "Checkweigher01"},
	{"rezero_active", RRezeroActive, TypeBool, "Checkweigher01"},
	{"label_applied", RLabelApplied, TypeBool, "Labeller01"},
	{"label_sensor_ok", RLabelSensorOK, TypeBool, "Labeller01"},
	{"label_stock_pct", RLabelStock, TypeUint16, "Labeller01"},
	{"barcode_read_ok", RBarcodeOK, TypeBool, "Scanner01"},
	{"rescan_count", RRescanCount, TypeUint16, "Scanner01"},
	{"hazard_required", RHazardRequired, TypeBool, "Labeller02"},
	{"hazard_applied", RHazardApplied, TypeBool, "Labeller02"},
	{"hazard_stock_pct", RHazardStock, TypeUint16, "Labeller02"},
	{"reject_triggered", RRejectTriggered, TypeBool, "RejectPusher01"},
	{"reject_reason", RRejectReason, TypeUint16, "RejectPusher01"},
	{"pusher_cycle_ms", RPusherCycleMS, TypeUint32, "RejectPusher01"},
}

// PackFloat32 returns the high and low words of an IEEE-754 big-endian
// float32 (high word at the lower address).
func PackFloat32(v float64) (hi, lo uint16) {
	bits := math.Float32bits(float32(v))
	return uint16(bits >> 16), uint16(bits & 0xFFFF)
}

// UnpackFloat32 is the inverse of PackFloat32.
func UnpackFloat32(hi, lo uint16) float64 {
	return float64(math.Float32frombits(uint32(hi)<<16 | uint32(lo)))
}

// PackUint32 returns the big-endian word pair of a uint32.
func PackUint32(v uint32) (hi, lo uint16) {
	return uint16(v >> 16), uint16(v & 0xFFFF)
}

// UnpackUint32 is the inverse of PackUint32.
func UnpackUint32(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// Bank is the fixed-layout holding register array. The tick loop owns the
// staged buffer and commits it once per tick; readers snapshot the
// published buffer, so a snapshot never observes a half-written tick or a
// torn multi-word value.
type Bank struct {
	mu        sync.RWMutex
	published [TotalRegisters]uint16
	staged    [TotalRegisters]uint16 // tick goroutine only
}

func NewBank() *Bank {
	return &Bank{}
}

// SetUint16 stages a single-word value.
func (b *Bank) SetUint16(addr int, v uint16) {
	b.staged[addr] = v
}

// SetBool stages 0/1.
func (b *Bank) SetBool(addr int, v bool) {
	if v {
		b.staged[addr] = 1
	} else {
		b.staged[addr] = 0
	}
}

// SetUint32 stages a big-endian word pair, high word first.
func (b *Bank) SetUint32(addr int, v uint32) {
	b.staged[addr], b.staged[addr+1] = PackUint32(v)
}

// SetFloat32 stages an IEEE-754 big-endian word pair, high word first.
func (b *Bank) SetFloat32(addr int, v float64) {
	b.staged[addr], b.staged[addr+1] = PackFloat32(v)
}

// Staged reads back a staged word; tick goroutine only.
func (b *Bank) Staged(addr int) uint16 {
	return b.staged[addr]
}

// Commit publishes the staged buffer atomically.
func (b *Bank) Commit() {
	b.mu.Lock()
	b.published = b.staged
	b.mu.Unlock()
}

// Snapshot returns a coherent copy of count registers starting at start.
func (b *Bank) Snapshot(start, count int) ([]uint16, error) {
	if start < 0 || count <= 0 || start+count > TotalRegisters {
		return nil, fmt.Errorf("register range [%d,%d) out of bounds", start, start+count)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]uint16, count)
	copy(out, b.published[start:start+count])
	return out, nil
}

// Size is the bank length in registers.
func (b *Bank) Size() int {
	return TotalRegisters
}

var _ ports.RegisterReader = (*Bank)(nil)
