package model

// IDEARecord is the IDEA0-format alert JSON record of spec §6, one object
// per line in alerts.json.
type IDEARecord struct {
	Format     string       `json:"Format"`
	ID         string       `json:"ID"`
	DetectTime string       `json:"DetectTime"`
	EventTime  string       `json:"EventTime,omitempty"`
	Category   []string     `json:"Category"`
	Confidence float64      `json:"Confidence"`
	Source     []IDEAEndpoint `json:"Source,omitempty"`
	Target     []IDEAEndpoint `json:"Target,omitempty"`
	Attach     []IDEAAttach   `json:"Attach,omitempty"`
	ConnCount  int          `json:"ConnCount,omitempty"`
	Note       string       `json:"Note,omitempty"`
}

// IDEAEndpoint is a Source[]/Target[] entry of the IDEA format.
type IDEAEndpoint struct {
	IP4      []string `json:"IP4,omitempty"`
	IP6      []string `json:"IP6,omitempty"`
	MAC      []string `json:"MAC,omitempty"`
	Port     []int    `json:"Port,omitempty"`
	Proto    []string `json:"Proto,omitempty"`
	Type     []string `json:"Type,omitempty"`
	Hostname []string `json:"Hostname,omitempty"`
}

// IDEAAttach carries free-form supplementary content (e.g. evidence
// description) per the IDEA "Attach" array.
type IDEAAttach struct {
	ContentType string `json:"ContentType,omitempty"`
	Content     string `json:"Content,omitempty"`
}

// BuildIDEARecord renders an Evidence as an IDEA0 record, per spec §6's
// required-field list.
func BuildIDEARecord(e *Evidence, srcIP string, now Timestamp) IDEARecord {
	src := IDEAEndpoint{IP4: []string{srcIP}}
	if e.Port != 0 {
		src.Port = []int{e.Port}
	}
	if e.Proto != "" {
		src.Proto = []string{e.Proto}
	}
	if e.SourceTargetTag != "" {
		src.Type = []string{e.SourceTargetTag}
	}

	return IDEARecord{
		Format:     "IDEA0",
		ID:         e.ID,
		DetectTime: now.ISO8601(),
		EventTime:  e.Timestamp.ISO8601(),
		Category:   []string{e.Category},
		Confidence: e.Confidence,
		Source:     []IDEAEndpoint{src},
		ConnCount:  e.ConnCount,
		Note:       e.Description,
	}
}
