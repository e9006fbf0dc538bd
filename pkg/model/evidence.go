package model

// ThreatLevel is one of the five named levels of spec §3, each mapping to a
// fixed numeric weight used by the aggregator.
type ThreatLevel string

const (
	ThreatInfo     ThreatLevel = "info"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Value returns the numeric weight of a threat level, or 0 and false if the
// level string is not one of the five recognized ones.
func (t ThreatLevel) Value() (float64, bool) {
	switch t {
	case ThreatInfo:
		return 0, true
	case ThreatLow:
		return 0.2, true
	case ThreatMedium:
		return 0.5, true
	case ThreatHigh:
		return 0.8, true
	case ThreatCritical:
		return 1.0, true
	default:
		return 0, false
	}
}

// DetectionType is the kind of value an evidence record is keyed on.
type DetectionType string

const (
	DetectionSrcIP    DetectionType = "srcip"
	DetectionDstIP    DetectionType = "dstip"
	DetectionDomain   DetectionType = "domain"
	DetectionMD5      DetectionType = "md5"
	DetectionURL      DetectionType = "url"
	DetectionSport    DetectionType = "sport"
	DetectionSrcPort  DetectionType = "srcport"
)

// Evidence is a detector's structured observation (spec §3). It is
// immutable after publication: once set_evidence publishes it, nothing may
// mutate ThreatLevel or Confidence.
type Evidence struct {
	ID              string
	Timestamp       Timestamp
	ProfileID       string
	TWID            string
	DetectionType   DetectionType
	DetectionInfo   string
	EvidenceType    string // e.g. "ARPScan", "MITM-arp-attack"
	ThreatLevel     ThreatLevel
	Confidence      float64
	Category        string
	ConnCount       int
	Port            int
	Proto           string
	SourceTargetTag string
	Description     string
	UIDs            []string

	Whitelisted bool // not set by internal/evidence, which tags whitelisted evidence in its evidence_whitelisted set instead (spec §9 "tag-then-filter")
}

// WeightedThreat returns threat_level_value * confidence, the per-evidence
// contribution to a TW's accumulated threat (spec §4.5 step 4).
func (e *Evidence) WeightedThreat() float64 {
	v, ok := e.ThreatLevel.Value()
	if !ok {
		return 0
	}
	return v * e.Confidence
}

// CountsTowardAlert reports whether this evidence is one of the
// "outgoing-attack" detection types the aggregator alerts on (spec §4.5
// step 3d).
func (e *Evidence) CountsTowardAlert() bool {
	switch e.DetectionType {
	case DetectionSrcIP, DetectionSport, DetectionSrcPort:
		return true
	default:
		return false
	}
}
