// Package asn implements the ASN Enricher of spec §4.4.2: a four-step
// resolution chain (first-octet range cache, RDAP whois, offline
// GeoLite2, online HTTP lookup), adapted from the original's
// modules/ip_info/asn_info.py.
package asn

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openrdap/rdap"
	"github.com/oschwald/maxminddb-golang"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
	"github.com/flowsentry/flowsentry/pkg/model"
)

const (
	nsASNCache = "asn_cache" // hash first-octet -> json([]model.ASNRange)
	nsIPInfo   = "ip_info"   // hash ip -> json(model.ASNInfo)

	// updatePeriod matches the original's month-long cache lifetime
	// before an IP's ASN info is considered stale enough to refresh.
	updatePeriod = 30 * 24 * time.Hour

	onlineLookupTimeout = 5 * time.Second
)

type geoliteRecord struct {
	Org    string `maxminddb:"autonomous_system_organization"`
	Number uint   `maxminddb:"autonomous_system_number"`
}

// Enricher subscribes to new_ip and stores ASN info for each announced
// destination IP under its ip_info entry, caching by IPv4 first octet so that later
// IPs in the same range skip the network round trip entirely.
type Enricher struct {
	GeoliteDB       *maxminddb.Reader
	RDAPClient      *rdap.Client
	OnlineLookupURL string // defaults to http://ip-api.com/json if empty
	HTTPClient      *http.Client
}

// New opens the GeoLite2 mmdb at geoliteDBPath if set (a missing or
// unreadable path just disables that step, matching the original's
// "errors are printed in IP_info" best-effort open).
func New(geoliteDBPath, onlineLookupURL string) *Enricher {
	e := &Enricher{
		RDAPClient:      &rdap.Client{},
		OnlineLookupURL: onlineLookupURL,
		HTTPClient:      &http.Client{Timeout: onlineLookupTimeout},
	}
	if geoliteDBPath != "" {
		if db, err := maxminddb.Open(geoliteDBPath); err == nil {
			e.GeoliteDB = db
		} else {
			log.Warnf("asn: opening geolite db %s: %v", geoliteDBPath, err)
		}
	}
	return e
}

func (e *Enricher) Name() string { return "asn" }

func (e *Enricher) Channels() []string { return []string{bus.ChanNewIP} }

func (e *Enricher) Handle(ctx context.Context, msg bus.Message, store bus.Store) {
	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil || payload.IP == "" {
		return
	}
	e.Enrich(store, payload.IP)
}

// Enrich implements spec §4.4.2's four-step chain, stopping at the
// first step that yields an answer.
func (e *Enricher) Enrich(store bus.Store, ip string) {
	if !e.needsUpdate(store, ip) {
		return
	}

	if info, ok := e.cachedRangeLookup(store, ip); ok {
		e.updateIPInfo(store, ip, info)
		return
	}

	if info, ok := e.rdapLookup(store, ip); ok {
		e.updateIPInfo(store, ip, info)
		return
	}

	if info, ok := e.geoliteLookup(ip); ok {
		e.updateIPInfo(store, ip, info)
		return
	}

	if info, ok := e.onlineLookup(ip); ok {
		e.updateIPInfo(store, ip, info)
	}
}

// needsUpdate mirrors update_asn: refresh if there's no cached info, or
// a month has passed since the last update.
func (e *Enricher) needsUpdate(store bus.Store, ip string) bool {
	raw, ok := store.HGet(nsIPInfo, "all", ip)
	if !ok {
		return true
	}
	var info model.ASNInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return true
	}
	return time.Since(info.Timestamp.Time()) > updatePeriod
}

// cachedRangeLookup implements get_cached_asn: a first-IPv4-octet
// bucket of previously whois'd CIDR ranges (spec's documented
// IPv4-only simplification of the original's ipaddress-based range
// check).
func (e *Enricher) cachedRangeLookup(store bus.Store, ip string) (model.ASNInfo, bool) {
	octet := firstOctet(ip)
	if octet == "" {
		return model.ASNInfo{}, false
	}
	raw, ok := store.HGet(nsASNCache, "all", octet)
	if !ok {
		return model.ASNInfo{}, false
	}

	var ranges []model.ASNRange
	if err := json.Unmarshal([]byte(raw), &ranges); err != nil {
		return model.ASNInfo{}, false
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return model.ASNInfo{}, false
	}
	for _, r := range ranges {
		_, cidr, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			continue
		}
		if cidr.Contains(parsed) {
			return model.ASNInfo{Org: r.Org, Number: r.Number}, true
		}
	}
	return model.ASNInfo{}, false
}

func firstOctet(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		// the original's range cache is keyed by IPv4 first octet only;
		// IPv6 always falls through to the remaining chain steps.
		return ""
	}
	return strconv.Itoa(int(parsed.To4()[0]))
}

// rdapLookup implements cache_ip_range: an RDAP whois lookup of the
// IP's containing network, cached by first octet for next time. RDAP
// ip-network responses don't carry an ASN number (unlike the
// original's ipwhois, which reads one out of a legacy WHOIS text
// blob), so Number is left blank here. Later IPs in the same first
// octet are answered from this cache entry, so their Number stays blank
// as well.
func (e *Enricher) rdapLookup(store bus.Store, ip string) (model.ASNInfo, bool) {
	if e.RDAPClient == nil {
		return model.ASNInfo{}, false
	}
	if parsed := net.ParseIP(ip); parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return model.ASNInfo{}, false
	}

	req := &rdap.Request{Type: rdap.IPRequest, Query: ip}
	resp, err := e.RDAPClient.Do(req)
	if err != nil || resp == nil {
		return model.ASNInfo{}, false
	}
	network, ok := resp.Object.(*rdap.IPNetwork)
	if !ok || network.Name == "" {
		return model.ASNInfo{}, false
	}

	cidr := ipNetworkCIDR(network)
	if cidr == "" {
		return model.ASNInfo{}, false
	}

	octet := firstOctet(ip)
	if octet != "" {
		e.cacheRange(store, octet, model.ASNRange{CIDR: cidr, Org: network.Name})
	}
	return model.ASNInfo{Org: network.Name}, true
}

// ipNetworkCIDR derives a CIDR string from an RDAP IP network's address
// range, since RDAP reports start/end addresses rather than a prefix.
func ipNetworkCIDR(network *rdap.IPNetwork) string {
	start := net.ParseIP(network.StartAddress)
	end := net.ParseIP(network.EndAddress)
	if start == nil || end == nil {
		return ""
	}
	bits := 32
	if start.To4() == nil {
		bits = 128
	}
	ones := commonPrefixLen(start, end, bits)
	return fmt.Sprintf("%s/%d", start.String(), ones)
}

func commonPrefixLen(a, b net.IP, bits int) int {
	a4, b4 := a.To4(), b.To4()
	if a4 != nil && b4 != nil {
		a, b = a4, b4
	} else {
		a, b = a.To16(), b.To16()
	}
	n := 0
	for i := 0; i < len(a) && n < bits; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			n += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if x&(1<<uint(bit)) == 0 {
				n++
			} else {
				break
			}
		}
		break
	}
	if n > bits {
		n = bits
	}
	return n
}

func (e *Enricher) cacheRange(store bus.Store, octet string, r model.ASNRange) {
	raw, _ := store.HGet(nsASNCache, "all", octet)
	var ranges []model.ASNRange
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &ranges)
	}
	ranges = append(ranges, r)
	if buf, err := json.Marshal(ranges); err == nil {
		store.HSet(nsASNCache, "all", octet, string(buf))
	}
}

// geoliteLookup implements get_asn_info_from_geolite.
func (e *Enricher) geoliteLookup(ip string) (model.ASNInfo, bool) {
	if e.GeoliteDB == nil {
		return model.ASNInfo{}, false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return model.ASNInfo{}, false
	}

	var rec geoliteRecord
	if err := e.GeoliteDB.Lookup(parsed, &rec); err != nil || rec.Org == "" {
		return model.ASNInfo{}, false
	}
	return model.ASNInfo{Org: rec.Org, Number: fmt.Sprintf("AS%d", rec.Number)}, true
}

// onlineLookup implements get_asn_online, against ip-api.com by
// default (spec §4.4.2 "online HTTP lookup").
func (e *Enricher) onlineLookup(ip string) (model.ASNInfo, bool) {
	if parsed := net.ParseIP(ip); parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return model.ASNInfo{}, false
	}

	base := e.OnlineLookupURL
	if base == "" {
		base = "http://ip-api.com/json"
	}
	resp, err := e.HTTPClient.Get(base + "/" + ip)
	if err != nil {
		return model.ASNInfo{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.ASNInfo{}, false
	}

	var body struct {
		As string `json:"as"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.As == "" {
		return model.ASNInfo{}, false
	}

	fields := strings.Fields(body.As)
	if len(fields) == 0 {
		return model.ASNInfo{}, false
	}
	return model.ASNInfo{Number: fields[0], Org: strings.Join(fields[1:], " ")}, true
}

func (e *Enricher) updateIPInfo(store bus.Store, ip string, info model.ASNInfo) {
	info.Timestamp = model.Now()
	if buf, err := json.Marshal(info); err == nil {
		store.HSet(nsIPInfo, "all", ip, string(buf))
	}
}
