// Package profiler implements the Profiler (spec §4.3): it turns each
// normalized flow into (profile, TW) keys, updates the shared state
// store, and publishes per-flow-type notifications for the detection
// modules to pick up.
package profiler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/flowsentry/flowsentry/internal/flow"
	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/model"
)

// SSS namespaces owned by the Profiler. Other components only read
// through these, never mutate them directly (spec §3 "Ownership").
const (
	nsProfiles    = "profiles"      // set "all" -> every known profile id
	nsIdent       = "profile_ident" // hash profileID -> hostname/mac/sni/rdns
	nsTWStarts    = "profile_tws"   // zset profileID -> twid, scored by TW start
	nsTWStartVal  = "profile_tw_start_val"
	nsTWState     = "profile_tw_state" // hash profileID -> twid -> "open"|"closed"
	nsTuplesOut   = "tuples_out"        // hash "profileID_twid" -> tuple key -> count
	nsModifiedTWs = "modified_tws"      // zset "global" -> "profileID_twid", scored by wall clock
	nsMACBindings = "mac_bindings"      // hash "global" -> mac -> last bound ip
)

// Profiler consumes normalized records from the Input Reader.
type Profiler struct {
	Store   bus.Store
	TWWidth int64 // seconds, uniform across every TW (spec §6 tw_width)
}

// New constructs a Profiler bound to store with the configured TW width.
func New(store bus.Store, twWidthSeconds int64) *Profiler {
	return &Profiler{Store: store, TWWidth: twWidthSeconds}
}

// Run consumes in until it is closed or ctx is cancelled, matching the
// Input Reader's bounded-queue handoff (spec §5 "Profiler blocks on
// queue dequeue").
func (p *Profiler) Run(ctx context.Context, in <-chan model.RawRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			p.Process(rec)
		}
	}
}

// Process runs the per-record algorithm of spec §4.3 steps 1-7.
func (p *Profiler) Process(rec model.RawRecord) {
	f, ok := flow.Normalize(rec)
	if !ok || f.SrcAddr == "" {
		return
	}

	profileID := model.ProfileID(f.SrcAddr)
	p.Store.SAdd(nsProfiles, "all", profileID)

	twid := p.resolveTW(profileID, f.StartTS)

	if f.ARP == nil && f.Proto != "" {
		p.recordTuple(profileID, twid, f)
	}
	p.mergeIdentification(profileID, f)
	if f.ARP != nil {
		p.recordMACBinding(f)
	}

	p.publish(profileID, twid, f)

	p.Store.ZAdd(nsModifiedTWs, "global", float64(model.Now()), profileID+"_"+twid)
}

// resolveTW implements spec §4.3 step 3: find the largest TW whose start
// <= event_ts; create TW 0 if none exists; chain subsequent TWs of
// uniform width up to the one containing event_ts, closing each one it
// passes and publishing tw_closed (spec §9 TW lifecycle: open -> closed,
// no transition back).
func (p *Profiler) resolveTW(profileID string, ts model.Timestamp) string {
	widthMicros := model.Timestamp(p.TWWidth) * 1_000_000
	tsF := float64(ts)

	candidates := p.Store.ZRange(nsTWStarts, profileID, nil, &tsF)
	if len(candidates) == 0 {
		return p.openTW(profileID, 0, ts)
	}

	twid := candidates[len(candidates)-1]
	start := p.twStart(profileID, twid)
	idx := twIndex(twid)

	for ts >= start+widthMicros {
		p.closeTW(profileID, twid)
		idx++
		start = start + widthMicros
		twid = p.openTW(profileID, idx, start)
	}
	return twid
}

func (p *Profiler) openTW(profileID string, idx int, start model.Timestamp) string {
	twid := model.TWID(idx)
	p.Store.ZAdd(nsTWStarts, profileID, float64(start), twid)
	p.Store.HSet(nsTWStartVal, profileID, twid, strconv.FormatInt(int64(start), 10))
	p.Store.HSet(nsTWState, profileID, twid, "open")
	return twid
}

func (p *Profiler) closeTW(profileID, twid string) {
	p.Store.HSet(nsTWState, profileID, twid, "closed")
	p.Store.Publish(bus.ChanTWClosed, profileID+"_"+twid)
}

func (p *Profiler) twStart(profileID, twid string) model.Timestamp {
	v, _ := p.Store.HGet(nsTWStartVal, profileID, twid)
	n, _ := strconv.ParseInt(v, 10, 64)
	return model.Timestamp(n)
}

// twIndex parses the numeric suffix of a model.TWID string.
func twIndex(twid string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(twid, "timewindow"))
	return n
}

// recordTuple updates the outbound (peer, port, proto) count for this
// (profile, TW) (spec §4.3 step 4). This core treats every flow as
// outbound from the profile that owns it, since the profile is keyed by
// the flow's source address (spec §4.3 step 2) — the inbound half of
// the same conversation is recorded under the peer's own profile the
// next time that peer appears as a flow's source address.
func (p *Profiler) recordTuple(profileID, twid string, f model.Flow) {
	tuple := model.Tuple{Peer: f.DstAddr, Port: f.DstPort, Proto: f.Proto}
	key := profileID + "_" + twid
	countStr, _ := p.Store.HGet(nsTuplesOut, key, tuple.Key())
	count, _ := strconv.Atoi(countStr)
	p.Store.HSet(nsTuplesOut, key, tuple.Key(), strconv.Itoa(count+1))
}

// mergeIdentification widens the profile's soft identity from whatever
// this flow carries, never clobbering an existing value (spec §4.3 step
// 5, model.Identification.Merge).
func (p *Profiler) mergeIdentification(profileID string, f model.Flow) {
	var upd model.Identification
	if f.ARP != nil {
		upd.MAC = f.ARP.SrcMAC
	}
	if f.Extra != nil {
		if host, ok := f.Extra["host"].(string); ok {
			upd.Hostname = host
		}
		if sni, ok := f.Extra["server_name"].(string); ok {
			upd.SNI = sni
		}
	}
	if upd == (model.Identification{}) {
		return
	}

	var cur model.Identification
	cur.Hostname, _ = p.Store.HGet(nsIdent, profileID, "hostname")
	cur.MAC, _ = p.Store.HGet(nsIdent, profileID, "mac")
	cur.SNI, _ = p.Store.HGet(nsIdent, profileID, "sni")
	cur.RDNS, _ = p.Store.HGet(nsIdent, profileID, "rdns")
	cur.Merge(upd)

	p.Store.HSet(nsIdent, profileID, "hostname", cur.Hostname)
	p.Store.HSet(nsIdent, profileID, "mac", cur.MAC)
	p.Store.HSet(nsIdent, profileID, "sni", cur.SNI)
	p.Store.HSet(nsIdent, profileID, "rdns", cur.RDNS)
}

// recordMACBinding remembers the IP a source MAC announced itself with,
// consulted by the ARP Analyzer's MITM detector (spec §4.4.1).
func (p *Profiler) recordMACBinding(f model.Flow) {
	if f.ARP.SrcMAC == "" {
		return
	}
	p.Store.HSet(nsMACBindings, "global", f.ARP.SrcMAC, f.SrcAddr)
}

// publish fans the flow out on its per-kind channel as the JSON record
// {profileid, twid, ...fields} (spec §4.3 step 6), and separately
// announces the destination IP on new_ip so the ASN Enricher has
// something to subscribe to (spec §4.4.2).
func (p *Profiler) publish(profileID, twid string, f model.Flow) {
	payload := map[string]any{
		"profileid": profileID,
		"twid":      twid,
		"saddr":     f.SrcAddr,
		"daddr":     f.DstAddr,
		"sport":     f.SrcPort,
		"dport":     f.DstPort,
		"proto":     f.Proto,
		"starttime": f.StartTS.Seconds(),
		"uid":       f.UID,
	}

	channel := bus.ChanNewFlow
	switch {
	case f.ARP != nil:
		channel = bus.ChanNewARP
		payload["operation"] = f.ARP.Operation
		payload["src_mac"] = f.ARP.SrcMAC
		payload["dst_mac"] = f.ARP.DstMAC
		payload["src_hw"] = f.ARP.SrcHW
		payload["dst_hw"] = f.ARP.DstHW
	case f.Extra != nil:
		if _, ok := f.Extra["query"]; ok {
			channel = bus.ChanNewDNS
		} else if _, ok := f.Extra["method"]; ok {
			channel = bus.ChanNewHTTP
		} else if _, ok := f.Extra["server_name"]; ok {
			channel = bus.ChanNewSSL
		}
	}

	if buf, err := json.Marshal(payload); err == nil {
		p.Store.Publish(channel, string(buf))
	}

	if f.ARP == nil && f.DstAddr != "" {
		if buf, err := json.Marshal(map[string]any{"ip": f.DstAddr, "profileid": profileID, "twid": twid}); err == nil {
			p.Store.Publish(bus.ChanNewIP, string(buf))
		}
	}
}
