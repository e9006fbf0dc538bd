// Package bus provides the Shared State Store (SSS): the single,
// process-wide, thread-safe integration surface between every FlowSentry
// component (spec §4.1). It exposes typed namespaces (hashes, sets,
// sorted sets) and a publish/subscribe bus with named channels.
//
// Two implementations are provided, selected at startup: InProcess (the
// default, channel-backed, for tests and single-process deployments) and
// NATS (out-of-process, for multi-process deployments reached with -P).
// No component mutates another's in-memory state directly — all sharing
// goes through a Store.
package bus

import (
	"context"
	"time"
)

// Well-known channel names (spec §6).
const (
	ChanNewFlow         = "new_flow"
	ChanNewARP          = "new_arp"
	ChanNewDNS          = "new_dns"
	ChanNewIP           = "new_ip"
	ChanNewSSL          = "new_ssl"
	ChanNewHTTP         = "new_http"
	ChanEvidenceAdded   = "evidence_added"
	ChanNewAlert        = "new_alert"
	ChanNewBlocking     = "new_blocking"
	ChanNewBlame        = "new_blame"
	ChanTWClosed        = "tw_closed"
	ChanRemoveOldFiles  = "remove_old_files"
	ChanFinishedModules = "finished_modules"
)

// StopProcess is the sentinel payload published on every channel to mean
// "shut down this subscriber" (spec §4.1, §4.6).
const StopProcess = "stop_process"

// Message is a single publish on a channel.
type Message struct {
	Channel string
	Payload string
}

// IsStop reports whether this message is the stop sentinel.
func (m Message) IsStop() bool {
	return m.Payload == StopProcess
}

// Subscription is the handle returned by Store.Subscribe. Messages
// published on Channel after Subscribe returns are delivered in publish
// order through GetMessage, except that Publish drops a message for a
// subscriber whose queue is full; subscribers joining later do not
// receive history (spec §4.1 Guarantees).
type Subscription interface {
	Channel() string
	Close()
}

// Store is the SSS contract of spec §4.1.
type Store interface {
	// HSet overwrites ns[key][field] = value, returning whether a prior
	// value existed.
	HSet(ns, key, field, value string) (existed bool)
	HGet(ns, key, field string) (value string, ok bool)
	HGetAll(ns, key string) map[string]string
	HDel(ns, key, field string)

	// SAdd idempotently adds member to the set at ns[key].
	SAdd(ns, key, member string) (added bool)
	SMembers(ns, key string) []string
	SIsMember(ns, key, member string) bool

	// ZAdd inserts member into the score-ordered collection at ns[key].
	// Ties are broken by insertion order.
	ZAdd(ns, key string, score float64, member string)
	// ZRange returns members in [lo,hi] score order. Either bound may be
	// nil for "unbounded".
	ZRange(ns, key string, lo, hi *float64) []string
	ZCard(ns, key string) int

	// Publish fans payload out to every current subscriber of channel.
	// Non-blocking, non-durable: a slow subscriber may drop a message.
	Publish(channel, payload string)
	// PublishStop broadcasts StopProcess on every channel with a live
	// subscriber.
	PublishStop()

	Subscribe(channel string) Subscription
	// GetMessage blocks for up to timeout waiting for the next message
	// on sub's channel. ok is false on timeout.
	GetMessage(ctx context.Context, sub Subscription, timeout time.Duration) (Message, bool)

	// Close releases all resources held by the store.
	Close() error
}
