// Package flow turns the Input Reader's RawRecord, which only carries a
// source-kind tag and an unparsed payload, into the uniform model.Flow
// the Profiler operates on (spec §4.3 step 1).
package flow

import (
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/flowsentry/flowsentry/pkg/model"
)

// Normalize dispatches on rec.Kind to the matching per-vendor parser. A
// record this core doesn't recognize (malformed JSON, wrong column count)
// returns ok=false; callers skip it and keep going (spec §7).
func Normalize(rec model.RawRecord) (model.Flow, bool) {
	switch rec.Kind {
	case model.SourceZeekJSON, model.SourceStdin:
		return normalizeZeekJSON(rec)
	case model.SourceZeekTabs:
		return normalizeZeekTabs(rec)
	case model.SourceArgus:
		return normalizeArgus(rec)
	case model.SourceSuricata:
		return normalizeSuricata(rec)
	case model.SourceNfdump:
		return normalizeNfdump(rec)
	default:
		return model.Flow{}, false
	}
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func intField(m map[string]any, key string) int64 {
	return int64(floatField(m, key))
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// normalizeZeekJSON handles both conn.log-shaped records (UID, id.orig_h/
// id.resp_h/...) and arp.log-shaped records (operation, src_mac, dst_mac,
// orig_h, resp_h, orig_hw, resp_hw), distinguishing by the presence of
// "operation".
func normalizeZeekJSON(rec model.RawRecord) (model.Flow, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(rec.Payload), &m); err != nil {
		return model.Flow{}, false
	}

	f := model.Flow{
		Kind:    rec.Kind,
		StartTS: model.TimestampFromFloatSeconds(floatField(m, "ts")),
		UID:     stringField(m, "uid"),
		Proto:   stringField(m, "proto"),
	}

	if _, isARP := m["operation"]; isARP {
		f.SrcAddr = stringField(m, "orig_h")
		f.DstAddr = stringField(m, "resp_h")
		f.ARP = &model.ARPFlow{
			Operation: stringField(m, "operation"),
			SrcMAC:    stringField(m, "src_mac"),
			DstMAC:    stringField(m, "dst_mac"),
			SrcHW:     stringField(m, "orig_hw"),
			DstHW:     stringField(m, "resp_hw"),
		}
		return f, true
	}

	if id, ok := m["id"].(map[string]any); ok {
		f.SrcAddr = stringField(id, "orig_h")
		f.DstAddr = stringField(id, "resp_h")
		f.SrcPort = int(intField(id, "orig_p"))
		f.DstPort = int(intField(id, "resp_p"))
	} else {
		f.SrcAddr = stringField(m, "id.orig_h")
		f.DstAddr = stringField(m, "id.resp_h")
		f.SrcPort = int(intField(m, "id.orig_p"))
		f.DstPort = int(intField(m, "id.resp_p"))
	}

	f.Duration = floatField(m, "duration")
	f.SrcBytes = intField(m, "orig_bytes")
	f.DstBytes = intField(m, "resp_bytes")
	f.SrcPkts = intField(m, "orig_pkts")
	f.DstPkts = intField(m, "resp_pkts")

	extra := map[string]any{}
	for _, k := range []string{"query", "answers", "method", "host", "uri", "server_name"} {
		if v, ok := m[k]; ok {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		f.Extra = extra
	}

	if f.SrcAddr == "" && f.DstAddr == "" {
		return model.Flow{}, false
	}
	return f, true
}

// normalizeZeekTabs expects rec.Fields["_header"] to carry the ordered
// column names (populated by the reader from the file's "#fields" line);
// falls back to a conn.log-shaped guess if absent.
func normalizeZeekTabs(rec model.RawRecord) (model.Flow, bool) {
	cols, _ := rec.Fields["_header"].([]string)
	if len(cols) == 0 {
		cols = []string{"ts", "uid", "id.orig_h", "id.orig_p", "id.resp_h", "id.resp_p",
			"proto", "service", "duration", "orig_bytes", "resp_bytes", "conn_state",
			"local_orig", "local_resp", "missed_bytes", "history", "orig_pkts",
			"orig_ip_bytes", "resp_pkts", "resp_ip_bytes", "tunnel_parents"}
	}

	values := strings.Split(rec.Payload, "\t")
	m := make(map[string]any, len(cols))
	for i, col := range cols {
		if i >= len(values) {
			break
		}
		if values[i] == "-" {
			continue
		}
		m[col] = values[i]
	}

	f := model.Flow{
		Kind:     rec.Kind,
		StartTS:  model.TimestampFromFloatSeconds(floatField(m, "ts")),
		UID:      stringField(m, "uid"),
		SrcAddr:  stringField(m, "id.orig_h"),
		DstAddr:  stringField(m, "id.resp_h"),
		SrcPort:  int(intField(m, "id.orig_p")),
		DstPort:  int(intField(m, "id.resp_p")),
		Proto:    stringField(m, "proto"),
		Duration: floatField(m, "duration"),
		SrcBytes: intField(m, "orig_bytes"),
		DstBytes: intField(m, "resp_bytes"),
		SrcPkts:  intField(m, "orig_pkts"),
		DstPkts:  intField(m, "resp_pkts"),
	}

	if f.SrcAddr == "" {
		return model.Flow{}, false
	}
	return f, true
}

// normalizeArgus handles one CSV line of argus `ra -c ,` output, columns
// StartTime,Dur,Proto,SrcAddr,Sport,Dir,DstAddr,Dport,State,SrcBytes,DstBytes,...
func normalizeArgus(rec model.RawRecord) (model.Flow, bool) {
	r := csv.NewReader(strings.NewReader(rec.Payload))
	fields, err := r.Read()
	if err != nil || len(fields) < 9 {
		return model.Flow{}, false
	}

	startTS, _ := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	dur, _ := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	sport, _ := strconv.Atoi(strings.TrimSpace(fields[4]))
	dport, _ := strconv.Atoi(strings.TrimSpace(fields[7]))
	srcBytes, dstBytes := int64(0), int64(0)
	if len(fields) > 9 {
		srcBytes, _ = strconv.ParseInt(strings.TrimSpace(fields[9]), 10, 64)
	}
	if len(fields) > 10 {
		dstBytes, _ = strconv.ParseInt(strings.TrimSpace(fields[10]), 10, 64)
	}

	f := model.Flow{
		Kind:     rec.Kind,
		StartTS:  model.TimestampFromFloatSeconds(startTS),
		SrcAddr:  strings.TrimSpace(fields[3]),
		DstAddr:  strings.TrimSpace(fields[6]),
		SrcPort:  sport,
		DstPort:  dport,
		Proto:    strings.TrimSpace(fields[2]),
		Duration: dur,
		SrcBytes: srcBytes,
		DstBytes: dstBytes,
	}
	if f.SrcAddr == "" {
		return model.Flow{}, false
	}
	return f, true
}

// normalizeSuricata handles one EVE JSON line, keeping "flow" events (and
// passing dns/http/tls events through with Extra populated for modules
// outside this core's scope).
func normalizeSuricata(rec model.RawRecord) (model.Flow, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(rec.Payload), &m); err != nil {
		return model.Flow{}, false
	}

	eventType := stringField(m, "event_type")
	if eventType == "" {
		return model.Flow{}, false
	}

	f := model.Flow{
		Kind:    rec.Kind,
		StartTS: parseSuricataTimestamp(stringField(m, "timestamp")),
		SrcAddr: stringField(m, "src_ip"),
		DstAddr: stringField(m, "dest_ip"),
		SrcPort: int(intField(m, "src_port")),
		DstPort: int(intField(m, "dest_port")),
		Proto:   stringField(m, "proto"),
	}

	if flowInfo, ok := m["flow"].(map[string]any); ok {
		f.Duration = floatField(flowInfo, "age")
		f.SrcBytes = intField(flowInfo, "bytes_toserver")
		f.DstBytes = intField(flowInfo, "bytes_toclient")
		f.SrcPkts = intField(flowInfo, "pkts_toserver")
		f.DstPkts = intField(flowInfo, "pkts_toclient")
	}

	switch eventType {
	case "dns", "http", "tls":
		if sub, ok := m[eventType].(map[string]any); ok {
			f.Extra = sub
		}
	}

	if f.SrcAddr == "" {
		return model.Flow{}, false
	}
	return f, true
}

func parseSuricataTimestamp(ts string) model.Timestamp {
	// EVE timestamps carry fractional seconds and a numeric zone without
	// a colon (e.g. +0000); RFC3339 is accepted as well. Any other format
	// yields 0.
	if ts == "" {
		return 0
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999-0700", time.RFC3339Nano} {
		if t, err := time.Parse(layout, ts); err == nil {
			return model.Timestamp(t.UnixMicro())
		}
	}
	return 0
}

// normalizeNfdump handles one CSV line emitted by the external nfdump
// converter (spec §4.2 "Binary flow file"): lines not starting with a
// digit are discarded upstream by the reader, so payload here is a data
// row. Columns follow `nfdump -o csv`: ts,te,td,pr,sa,da,sp,dp,...,ibyt,...
func normalizeNfdump(rec model.RawRecord) (model.Flow, bool) {
	fields := strings.Split(rec.Payload, ",")
	if len(fields) < 8 {
		return model.Flow{}, false
	}

	startTS, _ := strconv.ParseFloat(fields[0], 64)
	sport, _ := strconv.Atoi(fields[6])
	dport, _ := strconv.Atoi(fields[7])
	var bytes int64
	if len(fields) > 11 {
		bytes, _ = strconv.ParseInt(fields[11], 10, 64)
	}

	f := model.Flow{
		Kind:     rec.Kind,
		StartTS:  model.TimestampFromFloatSeconds(startTS),
		SrcAddr:  fields[4],
		DstAddr:  fields[5],
		SrcPort:  sport,
		DstPort:  dport,
		Proto:    fields[3],
		SrcBytes: bytes,
	}
	if f.SrcAddr == "" {
		return model.Flow{}, false
	}
	return f, true
}
