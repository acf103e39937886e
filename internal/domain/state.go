package domain

// LineState is the authoritative operational mode of the line. Exactly one
// state is active at a time; transitions are arbitrated by the state machine.
type LineState uint16

const (
	StateIdle LineState = iota
	StateRunning
	StateMicrostop
	StateStopped
	StateFault
	StateChangeover
	StateCIP
	StateStarved
	StateBlocked
)

var stateNames = map[LineState]string{
	StateIdle:       "IDLE",
	StateRunning:    "RUNNING",
	StateMicrostop:  "MICROSTOP",
	StateStopped:    "STOPPED",
	StateFault:      "FAULT",
	StateChangeover: "CHANGEOVER",
	StateCIP:        "CIP",
	StateStarved:    "STARVED",
	StateBlocked:    "BLOCKED",
}

func (s LineState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// RegisterCode maps the state onto the published line_state enum (0–6).
// STARVED and BLOCKED fold into STOPPED at the register surface; no stop
// code is assigned to them.
func (s LineState) RegisterCode() uint16 {
	switch s {
	case StateStarved, StateBlocked:
		return uint16(StateStopped)
	default:
		return uint16(s)
	}
}

// IsStop reports whether the state opens a stop episode.
func (s LineState) IsStop() bool {
	switch s {
	case StateMicrostop, StateStopped, StateFault, StateStarved, StateBlocked:
		return true
	}
	return false
}

// StopCodeValue returns the register value for a stop code string.
// 0=none, 1–10=MS01–MS10, 11–20=ST01–ST10, 21–23=BD-M1..M3, 24–26 minors.
func StopCodeValue(code string) uint16 {
	if code == "" {
		return 0
	}
	if v, ok := stopCodes[code]; ok {
		return v
	}
	return 0
}

var stopCodes = map[string]uint16{
	"MS01": 1, "MS02": 2, "MS03": 3, "MS04": 4, "MS05": 5,
	"MS06": 6, "MS07": 7, "MS08": 8, "MS09": 9, "MS10": 10,
	"ST01": 11, "ST02": 12, "ST03": 13, "ST04": 14, "ST05": 15,
	"ST06": 16, "ST07": 17, "ST08": 18, "ST09": 19, "ST10": 20,
	"BD-M1": 21, "BD-M2": 22, "BD-M3": 23,
	"BD-MINOR-PE": 24, "BD-MINOR-LS": 25, "BD-MINOR-CA": 26,
}

// StopCodeName is the inverse of StopCodeValue; "" for 0 or unknown values.
func StopCodeName(v uint16) string {
	for name, val := range stopCodes {
		if val == v {
			return name
		}
	}
	return ""
}

// FaultCodeValue maps a major breakdown code onto the fault_code register.
func FaultCodeValue(code string) uint16 {
	switch code {
	case "BD-M1":
		return 1
	case "BD-M2":
		return 2
	case "BD-M3":
		return 3
	}
	return 0
}

// Reject reason register values.
const (
	RejectNone    uint16 = 0
	RejectWeight  uint16 = 1
	RejectTorque  uint16 = 2
	RejectBarcode uint16 = 3
	RejectLabel   uint16 = 4
	RejectHazard  uint16 = 5
)

var rejectReasons = map[string]uint16{
	"weight":       RejectWeight,
	"torque":       RejectTorque,
	"barcode":      RejectBarcode,
	"label":        RejectLabel,
	"hazard_label": RejectHazard,
}

// RejectReasonValue returns the register value for a reject reason string.
func RejectReasonValue(reason string) uint16 {
	return rejectReasons[reason]
}
