// Package reader implements the Input Reader (spec §4.2): it turns any
// supported source into a stream of model.RawRecord delivered to the
// Profiler, preserving event-timestamp order across concurrently-written,
// occasionally-rotated files.
package reader

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowsentry/flowsentry/internal/flow"
	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
	"github.com/flowsentry/flowsentry/pkg/model"
)

// linePace is the small per-line delay applied to single-file CSV/JSON
// sources so a large backlog doesn't flood the Profiler (spec §4.2).
const linePace = 20 * time.Millisecond

// excludedLogNames carries no flow data useful to this core (spec §4.2).
var excludedLogNames = map[string]bool{
	"capture_loss":    true,
	"loaded_scripts":  true,
	"packet_filter":   true,
	"stats":           true,
	"weird":           true,
	"reporter":        true,
	"ntp":             true,
}

// Reader is constructed with (source_kind, location, packet_filter,
// inactivity_timeout) per spec §4.2's public contract.
type Reader struct {
	Kind              model.SourceKind
	Location          string
	PacketFilter      string
	InactivityTimeout time.Duration

	// Store is used for the directory source's remove_old_files
	// rotation handshake (spec §4.2 "Rotation handling"). May be nil
	// for sources that never rotate (single file, stdin, nfdump).
	Store bus.Store

	// CaptureCmd, when set, is the external capture tool argv used for
	// the live-interface source (spec §4.2 "Live interface").
	CaptureCmd []string
	// ConverterCmd, when set, is the external nfdump-style converter
	// argv used for the binary flow file source.
	ConverterCmd []string
}

// New constructs a Reader.
func New(kind model.SourceKind, location, packetFilter string, inactivityTimeout time.Duration) *Reader {
	return &Reader{
		Kind:              kind,
		Location:          location,
		PacketFilter:      packetFilter,
		InactivityTimeout: inactivityTimeout,
	}
}

// Run completes when the source indicates end-of-stream or the
// inactivity timeout elapses, sending every parsed record to out.
func (r *Reader) Run(ctx context.Context, out chan<- model.RawRecord) error {
	if len(r.CaptureCmd) > 0 {
		return r.runLiveCapture(ctx, out)
	}

	switch r.Kind {
	case model.SourceNfdump:
		return r.runNfdump(ctx, out)
	case model.SourceStdin:
		return r.runStdin(ctx, out)
	default:
		info, err := os.Stat(r.Location)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return r.runDirectory(ctx, out)
		}
		return r.runSingleFile(ctx, r.Location, out)
	}
}

// runLiveCapture spawns the external capture tool (e.g. zeek -i <iface>)
// in Location as its working directory, applying the configured packet
// filter, then falls into the same multi-file merge loop a directory
// source uses — rotation is how the capture tool closes a generation
// (spec §4.2 "Live interface / capture file").
func (r *Reader) runLiveCapture(ctx context.Context, out chan<- model.RawRecord) error {
	argv := append([]string(nil), r.CaptureCmd...)
	if r.PacketFilter != "" {
		argv = append(argv, r.PacketFilter)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Location
	if err := cmd.Start(); err != nil {
		log.Abortf("reader: external capture tool not available: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	mergeErr := make(chan error, 1)
	go func() { mergeErr <- r.runDirectory(ctx, out) }()

	select {
	case err := <-mergeErr:
		_ = cmd.Process.Kill()
		return err
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}
}

// runSingleFile reads argus CSV / suricata JSON-lines / zeek JSON-lines /
// zeek tab-separated line by line, skipping comment lines (spec §4.2).
func (r *Reader) runSingleFile(ctx context.Context, path string, out chan<- model.RawRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var header []string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			if r.Kind == model.SourceZeekTabs && strings.HasPrefix(line, "#fields") {
				header = strings.Fields(strings.TrimPrefix(line, "#fields"))
			}
			continue
		}

		rec := model.RawRecord{Kind: r.Kind, ArrivalTS: model.Now(), Payload: line}
		if header != nil {
			rec.Fields = map[string]any{"_header": header}
		}
		rec.EventTS = peekEventTS(rec)

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.Kind != model.SourceZeekTabs {
			time.Sleep(linePace)
		}
	}
	return scanner.Err()
}

// runStdin reads lines from standard input (spec §4.2 "Standard input
// stream"). Run only dispatches here when Kind is SourceStdin, so every
// line is tagged SourceStdin, which flow.Normalize parses as zeek
// JSON-lines; no other per-line format is read from standard input.
func (r *Reader) runStdin(ctx context.Context, out chan<- model.RawRecord) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rec := model.RawRecord{Kind: r.Kind, ArrivalTS: model.Now(), Payload: scanner.Text()}
		rec.EventTS = peekEventTS(rec)
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// runNfdump invokes the external converter, buffers its output, and
// enqueues each output line tagged nfdump, discarding lines whose first
// character is not a digit (spec §4.2 "Binary flow file").
func (r *Reader) runNfdump(ctx context.Context, out chan<- model.RawRecord) error {
	argv := r.ConverterCmd
	if len(argv) == 0 {
		argv = []string{"nfdump", "-r", r.Location, "-o", "csv"}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		log.Abortf("reader: external nfdump converter not available: %v", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		rec := model.RawRecord{Kind: model.SourceNfdump, ArrivalTS: model.Now(), Payload: line}
		rec.EventTS = peekEventTS(rec)
		select {
		case out <- rec:
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return ctx.Err()
		}
	}
	return cmd.Wait()
}

// peekEventTS parses just enough of a record to sort it, per spec §4.2
// step 2 ("parse into {event_ts, ...}"). A record the normalizer later
// rejects outright still sorts somewhere sane at 0.
func peekEventTS(rec model.RawRecord) model.Timestamp {
	f, ok := flow.Normalize(rec)
	if !ok {
		return 0
	}
	return f.StartTS
}

func shouldExcludeLogFile(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return excludedLogNames[base]
}
