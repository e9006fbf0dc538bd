package main

import "flag"

// cliFlags is the exact surface of spec §6 "CLI surface".
type cliFlags struct {
	filePath     string // -f
	iface        string // -i
	packetFilter string // -F
	outputDir    string // -o
	verboseLogs  bool   // -l
	snapshotOut  bool   // -s
	snapshotIn   string // -d
	blocking     bool   // -p
	clearBlock   bool   // -cb
	clearCache   bool   // -cc
	listKill     bool   // -k
	daemonize    bool   // -D
	stopDaemon   bool   // -S
	natsPort     int    // -P
	configFile   string // -c, not in spec.md's flag list but needed to load internal/config
}

func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("flowsentry", flag.ExitOnError)
	var f cliFlags
	fs.StringVar(&f.filePath, "f", "", "file or directory source")
	fs.StringVar(&f.iface, "i", "", "live capture interface")
	fs.StringVar(&f.packetFilter, "F", "", "packet filter expression")
	fs.StringVar(&f.outputDir, "o", "output", "output directory")
	fs.BoolVar(&f.verboseLogs, "l", false, "enable detailed logs")
	fs.BoolVar(&f.snapshotOut, "s", false, "snapshot state on exit")
	fs.StringVar(&f.snapshotIn, "d", "", "load state snapshot from path")
	fs.BoolVar(&f.blocking, "p", false, "enable blocking (requires interface + privilege)")
	fs.BoolVar(&f.clearBlock, "cb", false, "clear blocking rules and exit")
	fs.BoolVar(&f.clearCache, "cc", false, "clear cache and exit")
	fs.BoolVar(&f.listKill, "k", false, "list/kill unused background state stores")
	fs.BoolVar(&f.daemonize, "D", false, "daemonize")
	fs.BoolVar(&f.stopDaemon, "S", false, "stop daemon")
	fs.IntVar(&f.natsPort, "P", 0, "state-store port for out-of-process SSS")
	fs.StringVar(&f.configFile, "c", "", "configuration file")
	_ = fs.Parse(args)
	return f
}
