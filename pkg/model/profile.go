package model

import "fmt"

// ProfileID returns the SSS key for the host identified by addr, following
// spec §4.3 step 2: "profile_" + source_addr.
func ProfileID(addr string) string {
	return "profile_" + addr
}

// TWID returns the SSS key for time window index idx of a profile.
func TWID(idx int) string {
	return fmt.Sprintf("timewindow%d", idx)
}

// Tuple is an observed (peer, port, proto) triple, counted per direction
// per time window (spec §3 Profile attributes).
type Tuple struct {
	Peer  string
	Port  int
	Proto string
}

func (t Tuple) Key() string {
	return fmt.Sprintf("%s-%d-%s", t.Peer, t.Port, t.Proto)
}

// Identification holds the soft identity merged onto a profile over time.
// Fields are only ever widened, never cleared by an empty update (spec §3
// "Profile" supplemental: merge, don't overwrite).
type Identification struct {
	Hostname string
	MAC      string
	SNI      string
	RDNS     string
}

// Merge fills in zero fields of id from other, leaving existing values
// untouched — mirrors the original's update_ip_info "merge, don't clobber"
// behavior.
func (id *Identification) Merge(other Identification) {
	if id.Hostname == "" && other.Hostname != "" {
		id.Hostname = other.Hostname
	}
	if id.MAC == "" && other.MAC != "" {
		id.MAC = other.MAC
	}
	if id.SNI == "" && other.SNI != "" {
		id.SNI = other.SNI
	}
	if id.RDNS == "" && other.RDNS != "" {
		id.RDNS = other.RDNS
	}
}
