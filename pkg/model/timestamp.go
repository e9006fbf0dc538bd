// Package model holds the data types shared by every FlowSentry component:
// flow records, profiles, time windows, evidence, alerts and the ASN cache.
// No component mutates another's in-memory copy of these types directly —
// all sharing happens through pkg/bus.
package model

import "time"

// Timestamp is microseconds since the Unix epoch. Every component that
// touches wall-clock time converts to/from this representation at its
// boundary; display formats (ISO-8601, IDEA DetectTime, ...) are produced
// only at log/output boundaries.
type Timestamp int64

// TimestampFromFloatSeconds converts a payload timestamp in floating point
// seconds (the common wire format: zeek, suricata, argus) to a Timestamp.
// A zero or negative input (missing timestamp) yields Timestamp(0), which
// sorts earliest — matching the reader's "missing event timestamp" rule.
func TimestampFromFloatSeconds(sec float64) Timestamp {
	if sec <= 0 {
		return 0
	}
	return Timestamp(sec * 1e6)
}

// Seconds returns the timestamp as floating point seconds since the epoch.
func (t Timestamp) Seconds() float64 {
	return float64(t) / 1e6
}

// Time returns the timestamp as a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

// ISO8601 renders the timestamp the way alerts.log and IDEA records do.
func (t Timestamp) ISO8601() string {
	return t.Time().Format("2006-01-02T15:04:05.000000Z")
}

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}
