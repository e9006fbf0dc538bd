package model

// TWState is the two-state lifecycle of a time window (spec §9 DESIGN NOTES
// "State-machine for TW lifecycle"): open -> closed, no transition back.
type TWState int

const (
	TWOpen TWState = iota
	TWClosed
)

// TimeWindow is a fixed-width temporal bucket within a profile.
type TimeWindow struct {
	Index int
	Start Timestamp
	Width int64 // seconds, uniform across all TWs
	State TWState
}

// Contains reports whether ts falls in [Start, Start+Width). The boundary
// case ts == Start+Width belongs to the *next* window, not this one (spec §9
// "exact-boundary case").
func (tw TimeWindow) Contains(ts Timestamp) bool {
	end := tw.Start + Timestamp(tw.Width)*1e6
	return ts >= tw.Start && ts < end
}

// End returns the exclusive end timestamp of the window.
func (tw TimeWindow) End() Timestamp {
	return tw.Start + Timestamp(tw.Width)*1e6
}
