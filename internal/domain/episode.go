package domain

import "time"

// StopEpisode is one open or closed interruption of the line. Opened on
// entry to a stop state, closed on exit. Times are virtual.
type StopEpisode struct {
	StopCode    string
	State       LineState
	Start       time.Time
	End         time.Time // zero while open
	Fingerprint any       // immutable once attached
	FaultCode   string
	Severity    string
	Station     string
	ReasonID    int
	ReasonText  string
}

// DurationMS is the closed episode length in virtual milliseconds.
func (e *StopEpisode) DurationMS(closedAt time.Time) int64 {
	return closedAt.Sub(e.Start).Milliseconds()
}
