package evidence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/model"
)

type alwaysClean struct{}

func (alwaysClean) IsWhitelisted(string, string, model.DetectionType, string) bool { return false }

type alwaysWhite struct{}

func (alwaysWhite) IsWhitelisted(string, string, model.DetectionType, string) bool { return true }

func scanEvidence(profileID, twid string, ts model.Timestamp) model.Evidence {
	return model.Evidence{
		Timestamp:     ts,
		ProfileID:     profileID,
		TWID:          twid,
		DetectionType: model.DetectionSrcIP,
		DetectionInfo: "10.0.0.5",
		EvidenceType:  "ARPScan",
		ThreatLevel:   model.ThreatHigh,
		Confidence:    1.0,
		Description:   "doing an arp scan",
	}
}

func TestAggregatorRaisesAlertAtThreshold(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()

	a := &Aggregator{Whitelist: alwaysClean{}, DetectionThreshold: 0.8, TWWidth: 60}
	alertSub := store.Subscribe(bus.ChanNewAlert)
	defer alertSub.Close()

	ev := SetEvidence(store, scanEvidence("profile_10.0.0.5", "timewindow0", model.Now()))
	buf, _ := json.Marshal(ev)
	a.handleEvidence(store, string(buf))

	msg, ok := store.GetMessage(context.Background(), alertSub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Contains(t, msg.Payload, "profile_10.0.0.5_timewindow0")

	alerted := store.SMembers(nsAlerted, "profile_10.0.0.5_timewindow0")
	assert.Contains(t, alerted, ev.ID)
}

func TestAggregatorSkipsBelowThreshold(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()

	a := &Aggregator{Whitelist: alwaysClean{}, DetectionThreshold: 600, TWWidth: 60}
	alertSub := store.Subscribe(bus.ChanNewAlert)
	defer alertSub.Close()

	ev := SetEvidence(store, scanEvidence("profile_10.0.0.6", "timewindow0", model.Now()))
	buf, _ := json.Marshal(ev)
	a.handleEvidence(store, string(buf))

	_, ok := store.GetMessage(context.Background(), alertSub, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestAggregatorTagsWhitelistedInsteadOfDeleting(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()

	a := &Aggregator{Whitelist: alwaysWhite{}, DetectionThreshold: 1, TWWidth: 60}
	ev := SetEvidence(store, scanEvidence("profile_10.0.0.7", "timewindow0", model.Now()))
	buf, _ := json.Marshal(ev)
	a.handleEvidence(store, string(buf))

	key := "profile_10.0.0.7_timewindow0"
	assert.Contains(t, store.SMembers(nsWhitelisted, key), ev.ID)
	// tag-then-filter: the record itself is never removed from storage.
	_, ok := store.HGet(nsEvidence, key, ev.ID)
	assert.True(t, ok)
}

func TestAggregatorHandleBlameRequestsBlocking(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()

	a := &Aggregator{TWWidth: 60}
	blockSub := store.Subscribe(bus.ChanNewBlocking)
	defer blockSub.Close()

	payload := `{"key_type":"ip","key":"10.0.0.9","evaluation_type":"reputation","evaluation":{"score":0.9,"confidence":0.9}}`
	a.handleBlame(store, payload)

	msg, ok := store.GetMessage(context.Background(), blockSub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Contains(t, msg.Payload, "10.0.0.9")
}
