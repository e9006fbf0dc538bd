// Package log provides leveled logging with systemd-compatible priority
// prefixes (https://www.freedesktop.org/software/systemd/man/sd-daemon.html).
// Every FlowSentry component prints through here instead of fmt.Print so
// verbosity can be controlled process-wide from one flag (spec §6
// verbose/debug).
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

// level bundles one severity's logger with the writer SetLogLevel
// swaps to io.Discard to silence it.
type level struct {
	writer io.Writer
	logger *log.Logger
}

func newLevel(prefix string, flags int) *level {
	lv := &level{writer: os.Stderr}
	lv.logger = log.New(lv.writer, prefix, flags)
	return lv
}

func (lv *level) printf(format string, v ...interface{}) {
	if lv.writer == io.Discard {
		return
	}
	_ = lv.logger.Output(3, fmt.Sprintf(format, v...))
}

func (lv *level) setDiscarded(discard bool) {
	if discard {
		lv.writer = io.Discard
	} else {
		lv.writer = os.Stderr
	}
	lv.logger.SetOutput(lv.writer)
}

var (
	debugLvl = newLevel("<7>[DEBUG]    ", 0)
	infoLvl  = newLevel("<6>[INFO]     ", 0)
	noteLvl  = newLevel("<5>[NOTICE]   ", log.Lshortfile)
	warnLvl  = newLevel("<4>[WARNING]  ", log.Lshortfile)
	errLvl   = newLevel("<3>[ERROR]    ", log.Llongfile)
)

// SetLogLevel cascades the same way the original verbosity flag does:
// each step down silences everything less severe than it, so "warn"
// keeps warnings and errors but drops notices, info and debug.
func SetLogLevel(lvl string) {
	allOn := []*level{debugLvl, infoLvl, noteLvl, warnLvl, errLvl}
	for _, l := range allOn {
		l.setDiscarded(false)
	}

	switch lvl {
	case "crit":
		errLvl.setDiscarded(true)
		fallthrough
	case "err", "fatal":
		warnLvl.setDiscarded(true)
		fallthrough
	case "warn":
		noteLvl.setDiscarded(true)
		fallthrough
	case "notice":
		infoLvl.setDiscarded(true)
		fallthrough
	case "info":
		debugLvl.setDiscarded(true)
	case "debug":
		// everything stays on
	default:
		fmt.Fprintf(os.Stderr, "pkg/log: invalid loglevel %q, using \"debug\"\n", lvl)
		SetLogLevel("debug")
	}
}

func Debugf(format string, v ...interface{}) { debugLvl.printf(format, v...) }
func Infof(format string, v ...interface{})  { infoLvl.printf(format, v...) }
func Notef(format string, v ...interface{})  { noteLvl.printf(format, v...) }
func Warnf(format string, v ...interface{})  { warnLvl.printf(format, v...) }
func Errorf(format string, v ...interface{}) { errLvl.printf(format, v...) }

// Abortf prints a single-line diagnostic to stderr and exits with a
// non-zero status. Used for unrecoverable startup failures (missing
// external tool, permission error, malformed config) per spec §7.
func Abortf(format string, v ...interface{}) {
	errLvl.printf(format, v...)
	os.Exit(1)
}
