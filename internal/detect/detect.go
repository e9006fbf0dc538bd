// Package detect provides the common driver loop shared by every
// detection module (spec §4.4): subscribe, loop, run detector, publish.
// Individual modules implement only Channels and Handle; this package
// owns the loop shape, grounded on the teacher's internal/taskManager
// pattern of one registration call per service sharing a single driver
// (here: one subscribe-loop per module instead of one gocron job per
// service).
package detect

import (
	"context"
	"time"

	"github.com/flowsentry/flowsentry/pkg/bus"
	"github.com/flowsentry/flowsentry/pkg/log"
)

// pollTimeout bounds each GetMessage call so a module with several
// channels interleaves consumption across all of them (spec §5
// "Detection modules block on get_message(channel) with a short timeout
// (<=10ms)").
const pollTimeout = 10 * time.Millisecond

// Module is the per-detector contract. Handle runs a pure function of
// (message, store) that either does nothing or calls store writes ending
// in a publish on evidence_added — modules never mutate another
// component's in-memory state directly.
type Module interface {
	Name() string
	Channels() []string
	Handle(ctx context.Context, msg bus.Message, store bus.Store)
}

// Run drives m until ctx is cancelled or m's channels all deliver
// stop_process, publishing m.Name() on finished_modules before
// returning (spec §4.6 Supervisor join protocol). A single module's
// panic is recovered and logged so it cannot corrupt the bus for
// others (spec §7 "Detection Modules swallow per-message exceptions").
func Run(ctx context.Context, store bus.Store, m Module) {
	channels := m.Channels()
	subs := make([]bus.Subscription, len(channels))
	for i, ch := range channels {
		subs[i] = store.Subscribe(ch)
	}
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	stopped := make(map[string]bool, len(channels))
	for {
		if len(stopped) == len(channels) {
			store.Publish(bus.ChanFinishedModules, m.Name())
			return
		}

		select {
		case <-ctx.Done():
			store.Publish(bus.ChanFinishedModules, m.Name())
			return
		default:
		}

		for i, sub := range subs {
			if stopped[channels[i]] {
				continue
			}
			msg, ok := store.GetMessage(ctx, sub, pollTimeout)
			if !ok {
				continue
			}
			if msg.IsStop() {
				stopped[channels[i]] = true
				continue
			}
			dispatch(ctx, store, m, msg)
		}
	}
}

func dispatch(ctx context.Context, store bus.Store, m Module, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("detect: module %s panicked on channel %s: %v", m.Name(), msg.Channel, r)
		}
	}()
	m.Handle(ctx, msg, store)
}
