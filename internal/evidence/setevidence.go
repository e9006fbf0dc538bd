// Package evidence implements set_evidence (spec §4.4 common contract)
// and the Evidence Aggregator (spec §4.5): every detection module calls
// SetEvidence to write an immutable evidence record and announce it on
// evidence_added; this package's Aggregator is the sole subscriber that
// turns accumulated evidence into alerts.
package evidence

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
	"github.com/flowsentry/flowsentry/pkg/model"
)

// SSS namespaces owned by this package (spec §3 "Evidence" ownership).
const (
	nsEvidence      = "evidence"         // hash "profileID_twid" -> evidenceID -> json(Evidence)
	nsEvidenceOrder = "evidence_order"   // zset "profileID_twid" -> evidenceID, scored by Timestamp
	nsAlerted       = "evidence_alerted" // set "profileID_twid" -> evidenceID already attributed to a past alert
	nsProcessed     = "evidence_processed"
	nsWhitelisted   = "evidence_whitelisted"
)

// SetEvidence assigns ev a fresh stable ID if it doesn't already have
// one, writes it under (ProfileID, TWID), and publishes it on
// evidence_added (spec §4.4 "set_evidence"). The returned copy carries
// the assigned ID. Once published, an evidence record's ThreatLevel and
// Confidence are never mutated again (spec §3 invariant); whitelisting
// later only tags it, it never rewrites these fields.
func SetEvidence(store bus.Store, ev model.Evidence) model.Evidence {
	if ev.ID == "" {
		ev.ID = newEvidenceID()
	}

	key := ev.ProfileID + "_" + ev.TWID
	buf, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("evidence: marshal %s: %v", ev.ID, err)
		return ev
	}

	store.HSet(nsEvidence, key, ev.ID, string(buf))
	store.ZAdd(nsEvidenceOrder, key, float64(ev.Timestamp), ev.ID)
	store.Publish(bus.ChanEvidenceAdded, string(buf))
	return ev
}

func newEvidenceID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "ev_" + hex.EncodeToString(b[:])
}
