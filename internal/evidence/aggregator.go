package evidence

import (
	"context"
	"encoding/json"
	"net"
	"sort"
	"strings"

	"github.com/flowsentry/flowsentry/internal/alertlog"
	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
	"github.com/flowsentry/flowsentry/pkg/model"
)

// addrFromProfileID strips the "profile_" prefix model.ProfileID adds.
func addrFromProfileID(profileID string) string {
	return strings.TrimPrefix(profileID, "profile_")
}

const nsBlockedTW = "blocked_tw" // set "global" -> "profileID_twid"
const nsAlerts = "alerts"        // hash "profileID_twid" -> alertID -> json(Alert)

// Whitelist is the external collaborator the aggregator delegates
// whitelist checks to (spec §4.5 step 2, spec §1 "external collaborators").
type Whitelist interface {
	IsWhitelisted(srcIP, detectionInfo string, detectionType model.DetectionType, description string) bool
}

// Aggregator implements the Evidence Aggregator of spec §4.5: it turns
// evidence_added messages into alerts once a (profile, TW)'s
// accumulated threat crosses a width-scaled threshold, and may request
// blocking. It also carries the parallel new_blame subscription of
// spec §4.5's last paragraph.
type Aggregator struct {
	Whitelist          Whitelist
	AlertLog           *alertlog.Log
	DetectionThreshold float64 // attacks per minute (spec §6)
	TWWidth            int64   // seconds

	// LiveInterface and Blocking gate spec §4.5 step 6's blocking
	// request: blocking only happens on a live capture with -p set.
	LiveInterface bool
	Blocking      bool
	OwnIPs        map[string]bool
}

func (a *Aggregator) Name() string { return "evidence" }

func (a *Aggregator) Channels() []string {
	return []string{bus.ChanEvidenceAdded, bus.ChanNewBlame}
}

// thresholdForWidth scales the configured attacks/min rate to this TW's
// width (spec §4.5 "Threshold").
func (a *Aggregator) thresholdForWidth() float64 {
	return a.DetectionThreshold * float64(a.TWWidth) / 60
}

func (a *Aggregator) Handle(ctx context.Context, msg bus.Message, store bus.Store) {
	switch msg.Channel {
	case bus.ChanEvidenceAdded:
		a.handleEvidence(store, msg.Payload)
	case bus.ChanNewBlame:
		a.handleBlame(store, msg.Payload)
	}
}

func (a *Aggregator) handleEvidence(store bus.Store, payload string) {
	var ev model.Evidence
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		// spec §7: the aggregator treats JSON-decode failure as "skip message"
		log.Warnf("evidence: skipping undecodable evidence_added payload: %v", err)
		return
	}

	key := ev.ProfileID + "_" + ev.TWID
	store.SAdd(nsProcessed, key, ev.ID)

	srcIP := addrFromProfileID(ev.ProfileID)
	if a.Whitelist != nil && a.Whitelist.IsWhitelisted(srcIP, ev.DetectionInfo, ev.DetectionType, ev.Description) {
		// tag-then-filter, never delete (spec §9 "Whitelist interaction")
		store.SAdd(nsWhitelisted, key, ev.ID)
		return
	}

	surviving := a.evidenceForTW(store, key)
	if len(surviving) == 0 {
		return
	}

	accumulated := 0.0
	for _, e := range surviving {
		accumulated += e.WeightedThreat()
	}

	if accumulated < a.thresholdForWidth() {
		return
	}
	if store.SIsMember(nsBlockedTW, "global", key) {
		return
	}

	a.writeAlertLog(&ev, srcIP)
	a.raiseAlert(store, ev.ProfileID, ev.TWID, srcIP, surviving, accumulated)
}

// writeAlertLog records the evidence whose arrival raised an alert to
// the alert log files (one alerts.log line and one IDEA record).
func (a *Aggregator) writeAlertLog(ev *model.Evidence, srcIP string) {
	if a.AlertLog == nil {
		return
	}
	a.AlertLog.WriteAlert(ev, srcIP, model.Now())
}

// evidenceForTW fetches and filters the evidence of a (profile, TW),
// per spec §4.5 step 3: whitelisted, already-alerted and not-yet-
// processed evidence is excluded, and only the "outgoing-attack"
// detection types count.
func (a *Aggregator) evidenceForTW(store bus.Store, key string) []model.Evidence {
	all := store.HGetAll(nsEvidence, key)
	out := make([]model.Evidence, 0, len(all))

	for id, raw := range all {
		if store.SIsMember(nsWhitelisted, key, id) {
			continue
		}
		if store.SIsMember(nsAlerted, key, id) {
			continue
		}
		if !store.SIsMember(nsProcessed, key, id) {
			continue
		}
		var ev model.Evidence
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		if !ev.CountsTowardAlert() {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (a *Aggregator) raiseAlert(store bus.Store, profileID, twid, srcIP string, surviving []model.Evidence, accumulated float64) {
	key := profileID + "_" + twid
	last := surviving[len(surviving)-1]

	alertID := model.AlertID(profileID, twid, last.ID)
	ids := make([]string, len(surviving))
	for i, e := range surviving {
		ids[i] = e.ID
		store.SAdd(nsAlerted, key, e.ID)
	}

	alert := model.Alert{
		ID:                   alertID,
		ProfileID:            profileID,
		TWID:                 twid,
		ContributingEvidence: ids,
		Timestamp:            model.Now(),
		AccumulatedThreat:    accumulated,
	}
	if buf, err := json.Marshal(alert); err == nil {
		store.HSet(nsAlerts, key, alertID, string(buf))
	}
	store.Publish(bus.ChanNewAlert, alertID)

	if a.shouldBlock(srcIP) {
		a.requestBlock(store, srcIP, key, false, 0)
	}
}

// shouldBlock implements spec §4.5 step 6: blocking is only requested
// on a live interface with -p set, and never against our own IPs.
func (a *Aggregator) shouldBlock(ip string) bool {
	if !a.LiveInterface || !a.Blocking {
		return false
	}
	if a.OwnIPs != nil && a.OwnIPs[ip] {
		return false
	}
	return true
}

func (a *Aggregator) requestBlock(store bus.Store, ip, twKey string, bidirectional bool, blockForSeconds int64) {
	payload := map[string]any{"ip": ip, "block": true}
	if bidirectional {
		payload["to"] = true
		payload["from"] = true
		payload["block_for"] = blockForSeconds
	}
	if buf, err := json.Marshal(payload); err == nil {
		store.Publish(bus.ChanNewBlocking, string(buf))
	}
	if twKey != "" {
		store.SAdd(nsBlockedTW, "global", twKey)
	}
}

// handleBlame requests blocking, in both directions and for twice the
// TW width, of any valid IP named in a new_blame message (spec §4.5 last
// paragraph). The score and confidence in the message are decoded but
// not stored, and they do not decide whether blocking is requested.
func (a *Aggregator) handleBlame(store bus.Store, payload string) {
	var blame struct {
		KeyType        string `json:"key_type"`
		Key            string `json:"key"`
		EvaluationType string `json:"evaluation_type"`
		Evaluation     struct {
			Score      float64 `json:"score"`
			Confidence float64 `json:"confidence"`
		} `json:"evaluation"`
	}
	if err := json.Unmarshal([]byte(payload), &blame); err != nil {
		log.Warnf("evidence: skipping undecodable new_blame payload: %v", err)
		return
	}
	if blame.KeyType != "ip" {
		return
	}
	if net.ParseIP(blame.Key) == nil {
		return
	}
	a.requestBlock(store, blame.Key, "", true, a.TWWidth*2)
}
