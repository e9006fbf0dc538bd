package model

// SourceKind identifies the flow-producing tool a record came from.
type SourceKind string

const (
	SourceZeekJSON  SourceKind = "zeek-json"
	SourceZeekTabs  SourceKind = "zeek-tabs"
	SourceArgus     SourceKind = "argus"
	SourceSuricata  SourceKind = "suricata"
	SourceNfdump    SourceKind = "nfdump"
	SourceStdin     SourceKind = "stdin"
)

// RawRecord is what the Input Reader hands to the Profiler: a source-tagged
// line or decoded payload, not yet parsed into a uniform flow view.
type RawRecord struct {
	Kind      SourceKind
	ArrivalTS Timestamp
	EventTS   Timestamp
	Payload   string
	Fields    map[string]any
}

// Flow is the uniform per-record view the Profiler builds from a RawRecord,
// regardless of which tool produced it (spec "Profiler Algorithm" step 1).
type Flow struct {
	Kind     SourceKind
	UID      string
	SrcAddr  string
	DstAddr  string
	SrcPort  int
	DstPort  int
	Proto    string
	StartTS  Timestamp
	Duration float64
	SrcBytes int64
	DstBytes int64
	SrcPkts  int64
	DstPkts  int64

	// ARP-specific fields, populated only when Kind carries ARP data.
	ARP *ARPFlow

	// Free-form protocol payload (DNS query, HTTP request, SSL SNI, ...)
	// carried through for modules out of this core's scope.
	Extra map[string]any
}

// ARPFlow carries the fields the ARP Analyzer needs (spec §4.4.1).
type ARPFlow struct {
	Operation string // "request" or "reply"
	SrcMAC    string
	DstMAC    string
	SrcHW     string
	DstHW     string
}

// IsGratuitous reports whether this ARP flow announces src's own binding,
// per spec §4.4.1: src==dst and dst_mac is broadcast, zero, or src_mac.
func (f *Flow) IsGratuitous() bool {
	if f.ARP == nil || f.SrcAddr != f.DstAddr {
		return false
	}
	switch f.ARP.DstMAC {
	case "ff:ff:ff:ff:ff:ff", "00:00:00:00:00:00", f.ARP.SrcMAC:
		return true
	default:
		return false
	}
}
