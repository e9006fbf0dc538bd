// Package whitelist provides the external whitelist collaborator the
// Evidence Aggregator delegates to (spec §4.5 step 2, §1 "external
// collaborators"). Entries are loaded from a JSON file, matching the
// shape of the original's whitelist.conf (IPs, CIDR ranges, domains and
// organization names — supplementing spec.md, which names the
// collaborator's interface but not its file format).
package whitelist

import (
	"encoding/json"
	"net"
	"os"
	"strings"

	"github.com/flowsentry/flowsentry/pkg/model"
)

// Config is the on-disk shape of a whitelist file.
type Config struct {
	IPs     []string `json:"ips"`
	CIDRs   []string `json:"cidrs"`
	Domains []string `json:"domains"`
	Orgs    []string `json:"orgs"`
}

// List is a loaded, query-ready whitelist.
type List struct {
	ips     map[string]bool
	nets    []*net.IPNet
	domains []string
	orgs    []string
}

// Load reads and parses path. A missing file yields an empty, always-false List.
func Load(path string) (*List, error) {
	l := &List{ips: map[string]bool{}}
	if path == "" {
		return l, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	for _, ip := range cfg.IPs {
		l.ips[ip] = true
	}
	for _, cidr := range cfg.CIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			l.nets = append(l.nets, n)
		}
	}
	l.domains = cfg.Domains
	l.orgs = cfg.Orgs
	return l, nil
}

// IsWhitelisted implements the evidence.Whitelist collaborator interface
// (spec §4.5 step 2): an exact IP match, a CIDR match, a domain
// exact-or-suffix match (only meaningful when detectionType is domain),
// or an organization name appearing in the evidence description.
func (l *List) IsWhitelisted(srcIP, detectionInfo string, detectionType model.DetectionType, description string) bool {
	if l.matchesIP(srcIP) || l.matchesIP(detectionInfo) {
		return true
	}
	if detectionType == model.DetectionDomain && l.matchesDomain(detectionInfo) {
		return true
	}
	for _, org := range l.orgs {
		if org != "" && strings.Contains(description, org) {
			return true
		}
	}
	return false
}

func (l *List) matchesIP(addr string) bool {
	if addr == "" {
		return false
	}
	if l.ips[addr] {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (l *List) matchesDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, d := range l.domains {
		d = strings.ToLower(d)
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
