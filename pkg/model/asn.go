package model

// ASNInfo is the enrichment an ASN Enricher attaches to an IP (spec §4.4.2).
type ASNInfo struct {
	Number    string
	Org       string
	Timestamp Timestamp
}

// ASNRange is a CIDR -> {org, number} mapping cached under an IPv4 first
// octet bucket (spec §3 "ASN-range cache entry").
type ASNRange struct {
	CIDR   string
	Org    string
	Number string
}
