// Package supervisor implements the Supervisor of spec §4.6: it holds
// the component registry, drives the cooperative stop_process/
// finished_modules handshake, escalates to hard cancellation if a
// component doesn't join in time, optionally snapshots the SSS to
// disk, and can auto-shutdown an offline run once it goes quiescent.
// Grounded on the teacher's server.go signal-handling goroutine
// (signal.Notify + a done channel) and cmd/cc-backend/main.go's
// top-level wiring.
package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.etcd.io/bbolt"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
)

const (
	// joinPollInterval and joinPollIterations implement spec §4.6 step
	// 2's "bounded number of polling iterations (on the order of 400 x
	// 100ms)".
	joinPollInterval   = 100 * time.Millisecond
	joinPollIterations = 400

	escalateAfter = 5 * time.Second

	quiescenceTick    = 5 * time.Second
	quiescenceDefault = 4

	nsModifiedTWs = "modified_tws" // mirrors internal/profiler's namespace
	nsProfiles    = "profiles"
	nsEvidence    = "evidence"
	nsAlerted     = "evidence_alerted"
	nsIPInfo      = "ip_info"
)

// Supervisor tracks every live component by name and drives shutdown.
type Supervisor struct {
	Store        bus.Store
	SnapshotPath string // set via -s; empty disables snapshotting

	mu       sync.Mutex
	registry map[string]bool

	shutdownOnce sync.Once
	done         chan struct{}
}

// New constructs a Supervisor bound to store.
func New(store bus.Store, snapshotPath string) *Supervisor {
	return &Supervisor{
		Store:        store,
		SnapshotPath: snapshotPath,
		registry:     map[string]bool{},
		done:         make(chan struct{}),
	}
}

// Register adds a component name to the process registry (spec §4.6
// "process registry (component name -> PID/handle)"; in this
// single-process Go port the handle is implicit in the goroutine the
// caller started).
func (s *Supervisor) Register(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[name] = true
}

// Done returns a channel closed once shutdown has fully completed.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// WatchSignals triggers Shutdown on SIGINT/SIGTERM (spec §4.6 "shutdown
// signal"), cancelling cancel so every component's context unwinds.
func (s *Supervisor) WatchSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Notef("supervisor: shutdown signal received")
		s.Shutdown(cancel)
	}()
}

// WatchQuiescence implements spec §4.6's offline-source auto-shutdown:
// every 5s, check whether any (profile, TW) was modified since the
// last tick; after quiescenceTicks consecutive idle ticks, shut down.
//
// The recurring check is a gocron DurationJob, the same recurring-
// interval scheduling primitive the teacher's internal/taskManager
// registers its background services with (e.g.
// updateDurationService.go's RegisterUpdateDurationWorker), generalized
// here from "update job durations on a timer" to "poll modified-TW
// activity on a timer".
func (s *Supervisor) WatchQuiescence(ctx context.Context, cancel context.CancelFunc, quiescenceTicks int) {
	if quiescenceTicks <= 0 {
		quiescenceTicks = quiescenceDefault
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Warnf("supervisor: quiescence scheduler unavailable, offline auto-shutdown disabled: %v", err)
		return
	}
	defer func() { _ = sched.Shutdown() }()

	idle := 0
	lastCheck := time.Now()
	done := make(chan struct{})

	_, err = sched.NewJob(
		gocron.DurationJob(quiescenceTick),
		gocron.NewTask(func() {
			now := time.Now()
			lo := float64(lastCheck.UnixMicro())
			lastCheck = now
			if activity := s.Store.ZRange(nsModifiedTWs, "global", &lo, nil); len(activity) == 0 {
				idle++
			} else {
				idle = 0
			}
			if idle >= quiescenceTicks {
				log.Notef("supervisor: quiescent for %d ticks, shutting down", idle)
				s.Shutdown(cancel)
				select {
				case <-done:
				default:
					close(done)
				}
			}
		}),
	)
	if err != nil {
		log.Warnf("supervisor: registering quiescence job: %v", err)
		return
	}

	sched.Start()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// Shutdown runs the spec §4.6 sequence exactly once: broadcast
// stop_process, wait for every registered component to acknowledge on
// finished_modules, escalate via cancel if any stragglers remain,
// snapshot if configured, then signal completion.
func (s *Supervisor) Shutdown(cancel context.CancelFunc) {
	s.shutdownOnce.Do(func() {
		remaining := s.snapshotRegistry()
		sub := s.Store.Subscribe(bus.ChanFinishedModules)
		defer sub.Close()

		s.Store.PublishStop()

		deadline := time.Now().Add(escalateAfter)
		escalated := false
		for i := 0; i < joinPollIterations && len(remaining) > 0; i++ {
			msg, ok := s.Store.GetMessage(context.Background(), sub, joinPollInterval)
			if ok && !msg.IsStop() {
				delete(remaining, msg.Payload)
			}
			if len(remaining) == 0 {
				break
			}
			if !escalated && time.Now().After(deadline) {
				escalated = true
				log.Warnf("supervisor: escalating shutdown, %d component(s) still running: %v", len(remaining), keys(remaining))
				if cancel != nil {
					cancel()
				}
			}
		}

		if s.SnapshotPath != "" {
			if err := s.Snapshot(s.SnapshotPath); err != nil {
				log.Errorf("supervisor: snapshot failed: %v", err)
			}
		}

		close(s.done)
	})
}

func (s *Supervisor) snapshotRegistry() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.registry))
	for k, v := range s.registry {
		out[k] = v
	}
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// bbolt bucket names for Snapshot/LoadSnapshot.
const (
	bucketProfiles = "profiles"
	bucketEvidence = "evidence"
	bucketIPInfo   = "ip_info"
)

// Snapshot persists the profile set, per-(profile,TW) evidence, and IP
// info cache to an embedded bbolt file at path (spec §4.6 step 4,
// `-s`). Unlike a hand-rolled JSON dump, bbolt gives this a crash-safe
// single-file format with its own transactional guarantees.
func (s *Supervisor) Snapshot(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		profilesBkt, err := tx.CreateBucketIfNotExists([]byte(bucketProfiles))
		if err != nil {
			return err
		}
		profiles := s.Store.SMembers(nsProfiles, "all")
		buf, err := json.Marshal(profiles)
		if err != nil {
			return err
		}
		if err := profilesBkt.Put([]byte("all"), buf); err != nil {
			return err
		}

		ipBkt, err := tx.CreateBucketIfNotExists([]byte(bucketIPInfo))
		if err != nil {
			return err
		}
		ipAll := s.Store.HGetAll(nsIPInfo, "all")
		for ip, raw := range ipAll {
			if err := ipBkt.Put([]byte(ip), []byte(raw)); err != nil {
				return err
			}
		}

		evBkt, err := tx.CreateBucketIfNotExists([]byte(bucketEvidence))
		if err != nil {
			return err
		}
		for _, profileID := range profiles {
			twids := s.Store.ZRange("profile_tws", profileID, nil, nil)
			for _, twid := range twids {
				key := profileID + "_" + twid
				all := s.Store.HGetAll(nsEvidence, key)
				if len(all) == 0 {
					continue
				}
				buf, err := json.Marshal(all)
				if err != nil {
					return err
				}
				if err := evBkt.Put([]byte(key), buf); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadSnapshot restores a previously-Snapshot'd bbolt file into store
// (spec §4.6 / §6 `-d <path>`).
func LoadSnapshot(path string, store bus.Store) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(bucketProfiles)); b != nil {
			if raw := b.Get([]byte("all")); raw != nil {
				var profiles []string
				if err := json.Unmarshal(raw, &profiles); err != nil {
					return err
				}
				for _, p := range profiles {
					store.SAdd(nsProfiles, "all", p)
				}
			}
		}

		if b := tx.Bucket([]byte(bucketIPInfo)); b != nil {
			_ = b.ForEach(func(ip, raw []byte) error {
				store.HSet(nsIPInfo, "all", string(ip), string(raw))
				return nil
			})
		}

		if b := tx.Bucket([]byte(bucketEvidence)); b != nil {
			_ = b.ForEach(func(key, raw []byte) error {
				var fields map[string]string
				if err := json.Unmarshal(raw, &fields); err != nil {
					return nil
				}
				for field, value := range fields {
					store.HSet(nsEvidence, string(key), field, value)
				}
				return nil
			})
		}
		return nil
	})
}
