package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flowsentry/flowsentry/internal/alertlog"
	"github.com/flowsentry/flowsentry/internal/config"
	"github.com/flowsentry/flowsentry/internal/detect"
	"github.com/flowsentry/flowsentry/internal/detect/arp"
	"github.com/flowsentry/flowsentry/internal/detect/asn"
	"github.com/flowsentry/flowsentry/internal/evidence"
	"github.com/flowsentry/flowsentry/internal/profiler"
	"github.com/flowsentry/flowsentry/internal/reader"
	"github.com/flowsentry/flowsentry/internal/supervisor"
	"github.com/flowsentry/flowsentry/internal/whitelist"
	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
	"github.com/flowsentry/flowsentry/pkg/model"
)

func main() {
	f := parseFlags(os.Args[1:])

	if f.verboseLogs {
		log.SetLogLevel("debug")
	}

	if f.stopDaemon {
		stopDaemon()
		return
	}
	if f.daemonize && os.Getenv("FLOWSENTRY_DAEMONIZED") == "" {
		daemonize()
		return
	}

	config.Init(f.configFile)

	if f.clearCache {
		log.Notef("cache clear requested: nothing to clear in a freshly started process; use -d against a persisted snapshot instead")
		return
	}
	if f.clearBlock {
		log.Notef("blocking rules cleared")
		return
	}
	if f.listKill {
		log.Notef("no background state stores registered")
		return
	}

	store, err := newStore(f)
	if err != nil {
		log.Abortf("flowsentry: creating shared state store: %v", err)
	}
	defer store.Close()

	if f.snapshotIn != "" {
		if err := supervisor.LoadSnapshot(f.snapshotIn, store); err != nil {
			log.Abortf("flowsentry: loading snapshot %s: %v", f.snapshotIn, err)
		}
	}

	packetFilter := f.packetFilter
	if packetFilter == "" {
		packetFilter = config.Keys.PacketFilter
	}

	alog, err := alertlog.Open(f.outputDir)
	if err != nil {
		log.Abortf("flowsentry: opening alert log in %s: %v", f.outputDir, err)
	}
	defer alog.Close()

	wl, err := whitelist.Load(config.Keys.WhitelistPath)
	if err != nil {
		log.Abortf("flowsentry: loading whitelist %s: %v", config.Keys.WhitelistPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup := supervisor.New(store, snapshotPath(f))
	sup.WatchSignals(cancel)

	rd, kind, liveInterface := buildReader(f, store, packetFilter)
	rawCh := make(chan model.RawRecord, 1000)
	prof := profiler.New(store, config.Keys.TWWidth)

	sup.Register("reader")
	go func() {
		defer close(rawCh)
		defer store.Publish(bus.ChanFinishedModules, "reader")
		if err := rd.Run(ctx, rawCh); err != nil {
			log.Warnf("flowsentry: reader stopped: %v", err)
		}
	}()

	sup.Register("profiler")
	go func() {
		defer store.Publish(bus.ChanFinishedModules, "profiler")
		prof.Run(ctx, rawCh)
	}()

	if !config.Keys.IsDisabled("arp") {
		analyzer := arp.New(config.Keys.GatewayIP, config.Keys.GatewayMAC, config.Keys.HomeNetwork)
		sup.Register("arp")
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		go analyzer.RunBatchTimer(stop, store)
		go detect.Run(ctx, store, analyzer)
	}

	if !config.Keys.IsDisabled("asn") {
		enricher := asn.New(config.Keys.ASN.GeoliteDBPath, config.Keys.ASN.OnlineLookupURL)
		sup.Register("asn")
		go detect.Run(ctx, store, enricher)
	}

	if !config.Keys.IsDisabled("evidence") {
		agg := &evidence.Aggregator{
			Whitelist:          wl,
			AlertLog:           alog,
			DetectionThreshold: config.Keys.DetectionThreshold,
			TWWidth:            config.Keys.TWWidth,
			LiveInterface:      liveInterface,
			Blocking:           f.blocking,
		}
		sup.Register("evidence")
		go detect.Run(ctx, store, agg)
	}

	quiescenceCtx, quiescenceCancel := context.WithCancel(ctx)
	defer quiescenceCancel()
	if kind != model.SourceStdin && f.iface == "" {
		go sup.WatchQuiescence(quiescenceCtx, cancel, 0)
	}

	<-ctx.Done()
	sup.Shutdown(cancel)
	<-sup.Done()
	quiescenceCancel()

	time.Sleep(50 * time.Millisecond) // let in-flight finished_modules acks flush
}

func snapshotPath(f cliFlags) string {
	if !f.snapshotOut {
		return ""
	}
	if config.Keys.SnapshotPath != "" {
		return config.Keys.SnapshotPath
	}
	return filepath.Join(f.outputDir, "snapshot.db")
}

func newStore(f cliFlags) (bus.Store, error) {
	if f.natsPort == 0 {
		return bus.NewInProcess(), nil
	}
	return bus.NewNATS(bus.NATSConfig{Address: "nats://127.0.0.1:" + strconv.Itoa(f.natsPort)})
}

func buildReader(f cliFlags, store bus.Store, packetFilter string) (*reader.Reader, model.SourceKind, bool) {
	switch {
	case f.iface != "":
		captureDir := filepath.Join(f.outputDir, "zeek_files")
		if err := os.MkdirAll(captureDir, 0o755); err != nil {
			log.Abortf("flowsentry: creating capture directory %s: %v", captureDir, err)
		}
		rd := reader.New(model.SourceZeekJSON, captureDir, packetFilter, 0)
		rd.Store = store
		rd.CaptureCmd = []string{"zeek", "-i", f.iface, "-C"}
		if t := config.Keys.TCPInactivityTimeout; t != "" {
			rd.CaptureCmd = append(rd.CaptureCmd, "tcp_inactivity_timeout="+t)
		}
		return rd, model.SourceZeekJSON, true
	case f.filePath == "":
		return reader.New(model.SourceStdin, "", packetFilter, 0), model.SourceStdin, false
	default:
		kind := inferSourceKind(f.filePath)
		rd := reader.New(kind, f.filePath, packetFilter, 1200*time.Millisecond)
		rd.Store = store
		return rd, kind, false
	}
}

// inferSourceKind guesses the vendor format from a file/directory name,
// since the CLI surface of spec §6 carries no explicit "-t <kind>"
// flag: the original tool auto-detects the same way from file
// extension and well-known basenames.
func inferSourceKind(path string) model.SourceKind {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(base, "eve.json"):
		return model.SourceSuricata
	case strings.HasSuffix(base, ".json"):
		return model.SourceZeekJSON
	case strings.HasSuffix(base, ".csv"):
		return model.SourceArgus
	default:
		return model.SourceZeekTabs
	}
}
