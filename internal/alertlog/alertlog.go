// Package alertlog writes the two alert output files of spec §6: a
// human-readable text log and an IDEA0-format JSON log, adapted from
// the teacher's addDataToLogFile/addDataToJSONFile pattern in
// original_source/slips_files/core/evidenceProcess.py. Written only by
// the Evidence Aggregator (spec §5 "External log files").
package alertlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flowsentry/flowsentry/pkg/log"
	"github.com/flowsentry/flowsentry/pkg/model"
)

// Log holds the two open alert output files.
type Log struct {
	mu   sync.Mutex
	text *os.File
	json *os.File
}

// Open creates (or appends to) dir/alerts.log and dir/alerts.json.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	text, err := os.OpenFile(filepath.Join(dir, "alerts.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	jsonf, err := os.OpenFile(filepath.Join(dir, "alerts.json"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		text.Close()
		return nil, err
	}
	return &Log{text: text, json: jsonf}, nil
}

// WriteAlert appends one line to alerts.log and one IDEA0 object to
// alerts.json for the evidence that crossed the threshold (spec §6
// output formats).
func (l *Log) WriteAlert(ev *model.Evidence, srcIP string, now model.Timestamp) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s: Src IP %-26s. %s: %s\n", ev.Timestamp.ISO8601(), srcIP, ev.EvidenceType, ev.Description)
	if _, err := l.text.WriteString(line); err != nil {
		log.Errorf("alertlog: writing alerts.log: %v", err)
	}

	rec := model.BuildIDEARecord(ev, srcIP, now)
	buf, err := json.Marshal(rec)
	if err != nil {
		log.Errorf("alertlog: marshaling IDEA record: %v", err)
		return
	}
	if _, err := l.json.Write(append(buf, '\n')); err != nil {
		log.Errorf("alertlog: writing alerts.json: %v", err)
	}
}

// Close flushes and closes both files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.text.Close()
	err2 := l.json.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
