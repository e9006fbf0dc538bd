package asn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/model"
)

func TestNeedsUpdateWhenNothingCached(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	e := &Enricher{}

	assert.True(t, e.needsUpdate(store, "8.8.8.8"))
}

func TestNeedsUpdateFalseWhenFresh(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	e := &Enricher{}

	info := model.ASNInfo{Org: "Google", Number: "AS15169", Timestamp: model.Now()}
	buf, _ := json.Marshal(info)
	store.HSet(nsIPInfo, "all", "8.8.8.8", string(buf))

	assert.False(t, e.needsUpdate(store, "8.8.8.8"))
}

func TestCachedRangeLookupHitsFirstOctetBucket(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	e := &Enricher{}

	ranges := []model.ASNRange{{CIDR: "8.8.8.0/24", Org: "Google", Number: "AS15169"}}
	buf, _ := json.Marshal(ranges)
	store.HSet(nsASNCache, "all", "8", string(buf))

	info, ok := e.cachedRangeLookup(store, "8.8.8.9")
	require.True(t, ok)
	assert.Equal(t, "Google", info.Org)
	assert.Equal(t, "AS15169", info.Number)
}

func TestCachedRangeLookupMissOutsideRange(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	e := &Enricher{}

	ranges := []model.ASNRange{{CIDR: "8.8.8.0/24", Org: "Google"}}
	buf, _ := json.Marshal(ranges)
	store.HSet(nsASNCache, "all", "8", string(buf))

	_, ok := e.cachedRangeLookup(store, "8.8.9.9")
	assert.False(t, ok)
}

func TestGeoliteLookupWithoutDBReturnsMiss(t *testing.T) {
	e := &Enricher{}
	_, ok := e.geoliteLookup("8.8.8.8")
	assert.False(t, ok)
}

func TestUpdateIPInfoStampsTimestamp(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	e := &Enricher{}

	e.updateIPInfo(store, "8.8.8.8", model.ASNInfo{Org: "Google", Number: "AS15169"})

	raw, ok := store.HGet(nsIPInfo, "all", "8.8.8.8")
	require.True(t, ok)
	var info model.ASNInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &info))
	assert.Equal(t, "Google", info.Org)
	assert.NotZero(t, info.Timestamp)
}

func TestFirstOctetIPv6Empty(t *testing.T) {
	assert.Equal(t, "", firstOctet("2001:db8::1"))
	assert.Equal(t, "8", firstOctet("8.8.8.8"))
}
