package profiler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/model"
)

func rawConn(ts float64, src, dst string) model.RawRecord {
	payload := fmt.Sprintf(`{"ts":%f,"uid":"u","id.orig_h":"%s","id.orig_p":1,"id.resp_h":"%s","id.resp_p":2,"proto":"tcp"}`, ts, src, dst)
	return model.RawRecord{Kind: model.SourceZeekJSON, Payload: payload}
}

func TestResolveTWCreatesAndAdvances(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	p := New(store, 3600)

	profileID := model.ProfileID("10.0.0.5")
	tw0 := p.resolveTW(profileID, model.TimestampFromFloatSeconds(100))
	assert.Equal(t, "timewindow0", tw0)

	// same TW: event just before start+width
	twSame := p.resolveTW(profileID, model.TimestampFromFloatSeconds(100+3599))
	assert.Equal(t, "timewindow0", twSame)

	// exact boundary belongs to the next window (spec §9 boundary case)
	sub := store.Subscribe(bus.ChanTWClosed)
	defer sub.Close()
	tw1 := p.resolveTW(profileID, model.TimestampFromFloatSeconds(100+3600))
	assert.Equal(t, "timewindow1", tw1)

	msg, ok := store.GetMessage(context.Background(), sub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, profileID+"_timewindow0", msg.Payload)

	state, _ := store.HGet(nsTWState, profileID, "timewindow0")
	assert.Equal(t, "closed", state)
	state, _ = store.HGet(nsTWState, profileID, "timewindow1")
	assert.Equal(t, "open", state)
}

func TestProcessPublishesNewFlowAndNewIP(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	p := New(store, 3600)

	flowSub := store.Subscribe(bus.ChanNewFlow)
	ipSub := store.Subscribe(bus.ChanNewIP)
	defer flowSub.Close()
	defer ipSub.Close()

	p.Process(rawConn(1.0, "10.0.0.5", "10.0.0.10"))

	_, ok := store.GetMessage(context.Background(), flowSub, 100*time.Millisecond)
	assert.True(t, ok)
	_, ok = store.GetMessage(context.Background(), ipSub, 100*time.Millisecond)
	assert.True(t, ok)

	members := store.SMembers("profiles", "all")
	assert.Contains(t, members, model.ProfileID("10.0.0.5"))
}

func TestRecordTupleCounts(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	p := New(store, 3600)

	p.Process(rawConn(1.0, "10.0.0.5", "10.0.0.10"))
	p.Process(rawConn(2.0, "10.0.0.5", "10.0.0.10"))

	profileID := model.ProfileID("10.0.0.5")
	count, ok := store.HGet(nsTuplesOut, profileID+"_timewindow0", model.Tuple{Peer: "10.0.0.10", Port: 2, Proto: "tcp"}.Key())
	require.True(t, ok)
	assert.Equal(t, "2", count)
}
