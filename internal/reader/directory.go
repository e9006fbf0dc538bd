package reader

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
	"github.com/flowsentry/flowsentry/pkg/model"
)

// fileHandle is one open log file in the merge loop. Its own mutex
// resolves the rotation race (spec §9 "Rotation race"): the rotation
// worker locks, closes and removes; a read-from-closing handle degrades
// to "no record this turn" instead of racing the close.
type fileHandle struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	scanner *bufio.Scanner
	header  []string
	closed  bool
}

func (h *fileHandle) readLine() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", false
	}
	if h.scanner.Scan() {
		return h.scanner.Text(), true
	}
	return "", false
}

func (h *fileHandle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	_ = h.file.Close()
}

// runDirectory implements the directory-of-zeek-style-logs source: it
// registers all *.log files, starts the rotation watcher, and runs the
// multi-file merge loop (spec §4.2).
func (r *Reader) runDirectory(ctx context.Context, out chan<- model.RawRecord) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(r.Location); err != nil {
		return err
	}

	var removeSub bus.Subscription
	if r.Store != nil {
		removeSub = r.Store.Subscribe(bus.ChanRemoveOldFiles)
		defer removeSub.Close()
	}

	handles := map[string]*fileHandle{}
	var handlesMu sync.Mutex

	closeAndForget := func(path string) {
		handlesMu.Lock()
		h, ok := handles[path]
		if ok {
			delete(handles, path)
		}
		handlesMu.Unlock()
		if ok {
			h.close()
		}
		_ = os.Remove(path)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 && r.Store != nil {
					r.Store.Publish(bus.ChanRemoveOldFiles, ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("reader: directory watcher error: %v", err)
			}
		}
	}()

	if removeSub != nil {
		go func() {
			for {
				msg, ok := r.Store.GetMessage(ctx, removeSub, time.Second)
				if ctx.Err() != nil {
					return
				}
				if !ok || msg.IsStop() {
					continue
				}
				closeAndForget(msg.Payload)
			}
		}()
	}

	pending := map[string]model.RawRecord{}
	lastTS := map[string]model.Timestamp{}
	lastProgress := time.Now()

	refreshKnownFiles := func() []string {
		entries, err := filepath.Glob(filepath.Join(r.Location, "*.log"))
		if err != nil {
			return nil
		}
		known := make([]string, 0, len(entries))
		for _, e := range entries {
			if shouldExcludeLogFile(e) {
				continue
			}
			known = append(known, e)
			if r.Store != nil {
				r.Store.SAdd("reader", "known_files", e)
			}
		}
		return known
	}

	kindForFile := func(path string) model.SourceKind {
		base := filepath.Base(path)
		if base == "arp.log" {
			return model.SourceZeekJSON
		}
		return r.Kind
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		known := refreshKnownFiles()

		for _, path := range known {
			if _, has := pending[path]; has {
				continue
			}

			handlesMu.Lock()
			h, opened := handles[path]
			if !opened {
				f, err := os.Open(path)
				if err != nil {
					handlesMu.Unlock()
					continue
				}
				h = &fileHandle{path: path, file: f, scanner: bufio.NewScanner(f)}
				h.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
				handles[path] = h
			}
			handlesMu.Unlock()

			line, ok := h.readLine()
			if !ok {
				continue
			}
			if len(line) > 0 && line[0] == '#' {
				continue
			}

			rec := model.RawRecord{Kind: kindForFile(path), ArrivalTS: model.Now(), Payload: line}
			rec.EventTS = peekEventTS(rec)
			pending[path] = rec
			lastTS[path] = rec.EventTS
			lastProgress = time.Now()
		}

		if len(pending) == 0 {
			if time.Since(lastProgress) >= r.InactivityTimeout {
				for _, h := range handles {
					h.close()
				}
				return nil
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		minPath := ""
		var minTS model.Timestamp
		for path, ts := range lastTS {
			if _, stillPending := pending[path]; !stillPending {
				continue
			}
			if minPath == "" || ts < minTS {
				minPath, minTS = path, ts
			}
		}

		rec := pending[minPath]
		delete(pending, minPath)
		delete(lastTS, minPath)

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
