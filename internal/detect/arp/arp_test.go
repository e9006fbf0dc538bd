package arp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/bus"
)

func flowPayload(f arpFlow) string {
	buf, _ := json.Marshal(f)
	return string(buf)
}

func TestCheckARPScanFiresAtFiveDistinctDests(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	a := New("", "", nil)

	sub := store.Subscribe(bus.ChanEvidenceAdded)
	defer sub.Close()

	for i := 0; i < 4; i++ {
		f := arpFlow{ProfileID: "profile_10.0.0.5", TWID: "timewindow0", SAddr: "10.0.0.5",
			DAddr: addrN(i), Timestamp: float64(i), Operation: "request", UID: "u"}
		a.handleARP(store, flowPayload(f))
	}
	_, ok := store.GetMessage(context.Background(), sub, 20*time.Millisecond)
	assert.False(t, ok, "fewer than threshold distinct dests shouldn't alert")

	f := arpFlow{ProfileID: "profile_10.0.0.5", TWID: "timewindow0", SAddr: "10.0.0.5",
		DAddr: addrN(4), Timestamp: 4, Operation: "request", UID: "u"}
	a.handleARP(store, flowPayload(f))

	msg, ok := store.GetMessage(context.Background(), sub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Contains(t, msg.Payload, "ARPScan")
}

func addrN(i int) string {
	return "10.0.0." + string(rune('1'+i))
}

func TestCheckARPScanIgnoresGatewayAndZeroAddr(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	a := New("10.0.0.1", "", nil)

	detected := a.checkARPScan(store, arpFlow{ProfileID: "profile_10.0.0.1", TWID: "timewindow0", SAddr: "10.0.0.1", DAddr: "10.0.0.9"})
	assert.False(t, detected)

	detected = a.checkARPScan(store, arpFlow{ProfileID: "profile_0.0.0.0", TWID: "timewindow0", SAddr: "0.0.0.0", DAddr: "10.0.0.9"})
	assert.False(t, detected)
}

func TestGratuitousReplyTriggersMITMNotScan(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	a := New("", "", nil)

	store.HSet(nsMACBindings, "global", "aa:bb", "10.0.0.20")

	sub := store.Subscribe(bus.ChanEvidenceAdded)
	defer sub.Close()

	f := arpFlow{
		ProfileID: "profile_10.0.0.21", TWID: "timewindow0",
		SAddr: "10.0.0.21", DAddr: "10.0.0.21",
		SrcMAC: "aa:bb", DstMAC: broadcastMAC, Operation: "reply", UID: "u",
	}
	a.handleARP(store, flowPayload(f))

	msg, ok := store.GetMessage(context.Background(), sub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Contains(t, msg.Payload, "MITM-arp-attack")
}

func TestUnsolicitedARPDetected(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	a := New("", "", nil)

	sub := store.Subscribe(bus.ChanEvidenceAdded)
	defer sub.Close()

	f := arpFlow{
		ProfileID: "profile_10.0.0.30", TWID: "timewindow0",
		SAddr: "10.0.0.30", DAddr: "10.0.0.31",
		SrcMAC: "aa:cc", DstMAC: broadcastMAC, SrcHW: "aa:cc", DstHW: broadcastMAC,
		Operation: "reply", UID: "u",
	}
	a.handleARP(store, flowPayload(f))

	msg, ok := store.GetMessage(context.Background(), sub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Contains(t, msg.Payload, "UnsolicitedARP")
}

func TestOutsideLocalnetDetected(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	a := New("", "", []string{"192.168.0.0/16"})

	sub := store.Subscribe(bus.ChanEvidenceAdded)
	defer sub.Close()

	f := arpFlow{
		ProfileID: "profile_192.168.1.5", TWID: "timewindow0",
		SAddr: "192.168.1.5", DAddr: "8.8.8.8",
		Operation: "request", UID: "u",
	}
	a.handleARP(store, flowPayload(f))

	msg, ok := store.GetMessage(context.Background(), sub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Contains(t, msg.Payload, "arp-outside-localnet")
}

func TestTWClosedClearsCache(t *testing.T) {
	a := New("", "", nil)
	a.destCache["profile_10.0.0.5_timewindow0"] = map[string]*destInfo{}
	a.destOrder["profile_10.0.0.5_timewindow0"] = []string{}

	a.handleTWClosed("profile_10.0.0.5_timewindow0")

	_, ok := a.destCache["profile_10.0.0.5_timewindow0"]
	assert.False(t, ok)
}
