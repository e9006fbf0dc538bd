package model

import "fmt"

// Alert is a cross-evidence verdict emitted when accumulated threat crosses
// the configured threshold (spec §3 "Alert").
type Alert struct {
	ID                 string
	ProfileID          string
	TWID               string
	ContributingEvidence []string
	Timestamp          Timestamp
	AccumulatedThreat  float64
}

// AlertID builds the alert identifier of spec §3: <profile>_<TW>_<last-evidence-ID>.
func AlertID(profileID, twid, lastEvidenceID string) string {
	return fmt.Sprintf("%s_%s_%s", profileID, twid, lastEvidenceID)
}
