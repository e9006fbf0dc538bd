// Package config holds the FlowSentry configuration surface of spec §6:
// a single JSON file, schema-validated at startup, decoded into the
// package-level Keys.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/flowsentry/flowsentry/pkg/log"
)

// ASNConfig configures the ASN Enricher's four-step resolution chain.
type ASNConfig struct {
	GeoliteDBPath   string `json:"geolite_db_path"`
	RDAPBaseURL     string `json:"rdap_base_url"`
	OnlineLookupURL string `json:"online_lookup_url"`
	CacheTTL        string `json:"cache_ttl"`
}

// Config is the decoded shape of the FlowSentry config file.
type Config struct {
	PacketFilter         string          `json:"packet_filter"`
	TCPInactivityTimeout string          `json:"tcp_inactivity_timeout"`
	HomeNetwork          []string        `json:"home_network"`
	TWWidth              int64           `json:"tw_width"`
	DetectionThreshold   float64         `json:"detection_threshold"`
	PopupAlerts          bool            `json:"popup_alerts"`
	DeleteZeekFiles      bool            `json:"delete_zeek_files"`
	StoreZeekFilesCopy   bool            `json:"store_zeek_files_copy"`
	Disable              []string        `json:"disable"`
	Verbose              int             `json:"verbose"`
	Debug                int             `json:"debug"`
	GatewayIP            string          `json:"gateway_ip"`
	GatewayMAC           string          `json:"gateway_mac"`
	WhitelistPath        string          `json:"whitelist_path"`
	ASN                  ASNConfig       `json:"asn"`
	NATS                 json.RawMessage `json:"nats"`
	SnapshotPath         string          `json:"snapshot_path"`
}

// Keys holds the process-wide configuration, populated by Init. It is
// initialised with a usable set of defaults (spec §6).
var Keys Config = Config{
	PacketFilter:       "ip or not ip",
	HomeNetwork:        []string{"192.168.0.0/16", "172.16.0.0/12", "10.0.0.0/8"},
	TWWidth:            3600,
	DetectionThreshold: 0.5,
	Verbose:            0,
	Debug:              0,
}

// IsDisabled reports whether a detection module name appears in the
// config's disable list.
func (c *Config) IsDisabled(module string) bool {
	for _, d := range c.Disable {
		if d == module {
			return true
		}
	}
	return false
}

// Init loads flagConfigFile over the defaults in Keys. A missing file is
// not an error — the defaults stand. A present-but-invalid file is a
// fatal startup condition (spec §7).
func Init(flagConfigFile string) {
	if flagConfigFile == "" {
		return
	}

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Abortf("config: reading %s: %v", flagConfigFile, err)
	}

	if err := validateAgainstSchema(configSchema, raw); err != nil {
		log.Abortf("config: %s: %v", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Abortf("config: decoding %s: %v", flagConfigFile, err)
	}
}
