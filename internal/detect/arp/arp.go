// Package arp implements the ARP Analyzer of spec §4.4.1: four
// detectors driven off new_arp and tw_closed, adapted from the
// original's modules/arp/arp.py.
package arp

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/flowsentry/flowsentry/internal/evidence"
	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/model"
)

// nsMACBindings mirrors internal/profiler's private namespace of the
// same name: the Profiler is the sole writer, the ARP Analyzer (here)
// is the sole reader (spec §4.4.1 MITM detector).
const nsMACBindings = "mac_bindings"

const (
	scanThreshold  = 5
	scanWindow     = 30 * time.Second
	batchWait      = 10 * time.Second
	maxRequeueSkip = 3

	broadcastMAC = "ff:ff:ff:ff:ff:ff"
	zeroMAC      = "00:00:00:00:00:00"
)

// arpFlow is the decoded shape of a new_arp payload (internal/profiler's
// publish step).
type arpFlow struct {
	Timestamp float64 `json:"starttime"`
	ProfileID string  `json:"profileid"`
	TWID      string  `json:"twid"`
	SAddr     string  `json:"saddr"`
	DAddr     string  `json:"daddr"`
	SrcMAC    string  `json:"src_mac"`
	DstMAC    string  `json:"dst_mac"`
	SrcHW     string  `json:"src_hw"`
	DstHW     string  `json:"dst_hw"`
	Operation string  `json:"operation"`
	UID       string  `json:"uid"`
}

func (f arpFlow) ts() model.Timestamp { return model.TimestampFromFloatSeconds(f.Timestamp) }

// destInfo records when and under which uids a (profile, TW) last sent
// an ARP request to a given destination.
type destInfo struct {
	uids []string
	ts   model.Timestamp
}

// scanEvidence is the payload queued for the 10s batching window (spec
// §4.4.1 ARPScan "batches the next 10 seconds").
type scanEvidence struct {
	ts        model.Timestamp
	profileID string
	twid      string
	uids      []string
	connCount int
}

func (e scanEvidence) key() string { return e.profileID + "_" + e.twid }

// Analyzer holds the per-(profile,TW) caches the four detectors share.
// A single Analyzer instance is not safe for concurrent Handle calls
// from more than one goroutine; detect.Run drives it serially.
type Analyzer struct {
	GatewayIP  string
	GatewayMAC string
	HomeNets   []*net.IPNet

	mu          sync.Mutex
	destCache   map[string]map[string]*destInfo // profileID_twid -> daddr -> info
	destOrder   map[string][]string              // profileID_twid -> daddr insertion order
	alertedOnce map[string]bool                  // profileID_twid -> ARPScan already alerted once

	pendingMu sync.Mutex
	pending   []scanEvidence
}

// New builds an Analyzer from the parsed home-network CIDRs (spec §6
// home_network) plus the configured gateway identity.
func New(gatewayIP, gatewayMAC string, homeNetworkCIDRs []string) *Analyzer {
	a := &Analyzer{
		GatewayIP:   gatewayIP,
		GatewayMAC:  gatewayMAC,
		destCache:   map[string]map[string]*destInfo{},
		destOrder:   map[string][]string{},
		alertedOnce: map[string]bool{},
	}
	for _, cidr := range homeNetworkCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			a.HomeNets = append(a.HomeNets, n)
		}
	}
	return a
}

func (a *Analyzer) Name() string { return "arp" }

func (a *Analyzer) Channels() []string {
	return []string{bus.ChanNewARP, bus.ChanTWClosed}
}

func (a *Analyzer) Handle(ctx context.Context, msg bus.Message, store bus.Store) {
	switch msg.Channel {
	case bus.ChanNewARP:
		a.handleARP(store, msg.Payload)
	case bus.ChanTWClosed:
		a.handleTWClosed(msg.Payload)
	}
}

func (a *Analyzer) handleARP(store bus.Store, payload string) {
	var f arpFlow
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return
	}

	if f.SAddr == f.DAddr && isGratuitousDstMAC(f.DstMAC, f.SrcMAC) {
		if strings.Contains(f.Operation, "reply") {
			a.detectMITM(store, f)
		}
	} else {
		a.checkARPScan(store, f)
	}

	switch {
	case strings.Contains(f.Operation, "request"):
		a.checkOutsideLocalnet(store, f)
	case strings.Contains(f.Operation, "reply"):
		a.detectUnsolicited(store, f)
	}
}

func isGratuitousDstMAC(dstMAC, srcMAC string) bool {
	switch dstMAC {
	case broadcastMAC, zeroMAC, srcMAC:
		return true
	default:
		return false
	}
}

// checkARPScan implements spec §4.4.1 ARPScan: 5+ distinct destinations
// from the same (profile, TW) within 30 seconds.
func (a *Analyzer) checkARPScan(store bus.Store, f arpFlow) (detected bool) {
	if f.SAddr == a.GatewayIP || f.SAddr == "0.0.0.0" {
		return false
	}

	key := f.ProfileID + "_" + f.TWID

	a.mu.Lock()
	cache, ok := a.destCache[key]
	if !ok {
		a.destCache[key] = map[string]*destInfo{f.DAddr: {uids: []string{f.UID}, ts: f.ts()}}
		a.destOrder[key] = []string{f.DAddr}
		a.mu.Unlock()
		return false
	}

	if d, exists := cache[f.DAddr]; exists {
		d.uids = append(d.uids, f.UID)
		d.ts = f.ts()
	} else {
		cache[f.DAddr] = &destInfo{uids: []string{f.UID}, ts: f.ts()}
		a.destOrder[key] = append(a.destOrder[key], f.DAddr)
	}

	order := a.destOrder[key]
	if len(order) < scanThreshold {
		a.mu.Unlock()
		return false
	}

	first := cache[order[0]]
	last := cache[order[len(order)-1]]
	diff := last.ts.Time().Sub(first.ts.Time())
	if diff > scanWindow {
		a.mu.Unlock()
		return false
	}

	connCount := len(order)
	uids := make([]string, 0, connCount)
	for _, daddr := range order {
		uids = append(uids, cache[daddr].uids...)
	}
	alertedOnce := a.alertedOnce[key]
	a.alertedOnce[key] = true
	a.mu.Unlock()

	ev := scanEvidence{ts: f.ts(), profileID: f.ProfileID, twid: f.TWID, uids: uids, connCount: connCount}
	if !alertedOnce {
		a.setEvidenceARPScan(store, ev)
	} else {
		// after alerting once, wait for the batching window to settle
		// before raising the next one (spec §4.4.1).
		a.enqueuePending(ev)
	}
	return true
}

// enqueuePending appends ev to the pending ARPScan batch, which the
// batching timer flushes through drainPending every batchWait. It does
// no merging itself.
func (a *Analyzer) enqueuePending(ev scanEvidence) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	a.pending = append(a.pending, ev)
}

// drainPending is invoked by the batching timer. It merges queued
// evidence that shares a (profile, TW) key into the first entry for that
// key and raises one ARPScan evidence per key in the same tick. Entries
// for other keys are not held back while a key's batch is open: only the
// entry that starts the maxRequeueSkip-th distinct key after the first is
// put back for the next tick, and later entries are still flushed now.
func (a *Analyzer) drainPending(store bus.Store) {
	a.pendingMu.Lock()
	pending := a.pending
	a.pending = nil
	a.pendingMu.Unlock()
	if len(pending) == 0 {
		return
	}

	merged := map[string]scanEvidence{}
	order := []string{}
	skipped := 0
	for _, ev := range pending {
		k := ev.key()
		if cur, ok := merged[k]; ok {
			cur.ts = ev.ts
			cur.uids = append(cur.uids, ev.uids...)
			cur.connCount = ev.connCount
			merged[k] = cur
			continue
		}
		if len(merged) > 0 {
			skipped++
			if skipped == maxRequeueSkip {
				a.enqueuePending(ev)
				continue
			}
		}
		merged[k] = ev
		order = append(order, k)
	}

	for _, k := range order {
		a.setEvidenceARPScan(store, merged[k])
	}
}

// RunBatchTimer periodically flushes the pending ARPScan batch. Callers
// should run it in its own goroutine; it returns when stop is closed.
func (a *Analyzer) RunBatchTimer(stop <-chan struct{}, store bus.Store) {
	ticker := time.NewTicker(batchWait)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.drainPending(store)
		}
	}
}

func (a *Analyzer) setEvidenceARPScan(store bus.Store, ev scanEvidence) {
	srcIP := strings.TrimPrefix(ev.profileID, "profile_")
	evidence.SetEvidence(store, model.Evidence{
		Timestamp:       ev.ts,
		ProfileID:       ev.profileID,
		TWID:            ev.twid,
		DetectionType:   model.DetectionSrcIP,
		DetectionInfo:   srcIP,
		EvidenceType:    "ARPScan",
		ThreatLevel:     model.ThreatLow,
		Confidence:      0.8,
		Category:        "Recon.Scanning",
		SourceTargetTag: "Recon",
		ConnCount:       ev.connCount,
		UIDs:            ev.uids,
		Description:     "performing an arp scan. Confidence 0.8.",
	})

	a.mu.Lock()
	delete(a.destCache, ev.key())
	delete(a.destOrder, ev.key())
	a.mu.Unlock()
}

// checkOutsideLocalnet implements spec §4.4.1 arp-outside-localnet.
func (a *Analyzer) checkOutsideLocalnet(store bus.Store, f arpFlow) bool {
	if f.SAddr == "0.0.0.0" || f.DAddr == "0.0.0.0" {
		return false
	}

	daddr := net.ParseIP(f.DAddr)
	if daddr == nil {
		return false
	}
	if daddr.IsMulticast() || daddr.IsLinkLocalUnicast() {
		return false
	}
	for _, n := range a.HomeNets {
		if n.Contains(daddr) {
			return false
		}
	}

	localNet := firstOctet(f.SAddr)
	if strings.HasPrefix(f.DAddr, localNet) {
		return false
	}

	evidence.SetEvidence(store, model.Evidence{
		Timestamp:     f.ts(),
		ProfileID:     f.ProfileID,
		TWID:          f.TWID,
		DetectionType: model.DetectionSrcIP,
		DetectionInfo: f.SAddr,
		EvidenceType:  "arp-outside-localnet",
		ThreatLevel:   model.ThreatLow,
		Confidence:    0.6,
		Category:      "Anomaly.Behaviour",
		UIDs:          []string{f.UID},
		Description:   f.SAddr + " sending ARP packet to a destination address outside of local network: " + f.DAddr,
	})
	return true
}

func firstOctet(addr string) string {
	if i := strings.IndexByte(addr, '.'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// detectUnsolicited implements spec §4.4.1 UnsolicitedARP.
func (a *Analyzer) detectUnsolicited(store bus.Store, f arpFlow) bool {
	if f.DstMAC != broadcastMAC || f.DstHW != broadcastMAC {
		return false
	}
	if f.SrcMAC == zeroMAC || f.SrcHW == zeroMAC {
		return false
	}

	evidence.SetEvidence(store, model.Evidence{
		Timestamp:       f.ts(),
		ProfileID:       f.ProfileID,
		TWID:            f.TWID,
		DetectionType:   model.DetectionSrcIP,
		DetectionInfo:   f.SAddr,
		EvidenceType:    "UnsolicitedARP",
		ThreatLevel:     model.ThreatInfo,
		Confidence:      0.8,
		Category:        "Information",
		SourceTargetTag: "Recon",
		UIDs:            []string{f.UID},
		Description:     "sending unsolicited ARP",
	})
	return true
}

// detectMITM implements spec §4.4.1 MITM-arp-attack. Its low confidence
// alongside a critical threat level is intentional (spec §9 Open
// Question): the original author could not distinguish a real cache
// attack from a legitimate IP reassignment, so the evidence is always
// raised but always discounted by confidence.
func (a *Analyzer) detectMITM(store bus.Store, f arpFlow) bool {
	originalIP, ok := store.HGet(nsMACBindings, "global", f.SrcMAC)
	if !ok || originalIP == "" || originalIP == f.SAddr {
		return false
	}

	saddr := f.SAddr
	srcMAC := f.SrcMAC
	origDesc := "IP " + originalIP

	if saddr == a.GatewayIP {
		saddr = "The gateway " + saddr
	}
	if srcMAC == a.GatewayMAC {
		srcMAC = "of the gateway " + srcMAC
	}
	if originalIP == a.GatewayIP {
		origDesc = "the gateway IP " + originalIP
	}

	description := saddr + " performing a MITM ARP attack. The MAC " + srcMAC +
		", now belonging to " + saddr + ", was seen before for " + origDesc + "."

	evidence.SetEvidence(store, model.Evidence{
		Timestamp:       f.ts(),
		ProfileID:       f.ProfileID,
		TWID:            f.TWID,
		DetectionType:   model.DetectionSrcIP,
		DetectionInfo:   f.SAddr,
		EvidenceType:    "MITM-arp-attack",
		ThreatLevel:     model.ThreatCritical,
		Confidence:      0.2,
		Category:        "Recon",
		SourceTargetTag: "MITM",
		UIDs:            []string{f.UID},
		Description:     description,
	})
	return true
}

func (a *Analyzer) handleTWClosed(profileTW string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.destCache {
		if strings.Contains(key, profileTW) {
			delete(a.destCache, key)
			delete(a.destOrder, key)
			delete(a.alertedOnce, key)
		}
	}
}
