package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flowsentry/flowsentry/pkg/log"
)

// NATS is the out-of-process Store, selected with -P for multi-process
// deployments (spec §4.1, §6). Its connection handling and subscription
// bookkeeping are adapted directly from the teacher's pkg/nats.Client: a
// *nats.Conn plus a mutex-guarded slice of live subscriptions. The
// hash/set/zset namespaces, which the teacher's NATS wrapper never
// needed, are layered on top of JetStream key/value buckets so several
// FlowSentry processes can actually share state through the NATS server
// rather than only exchanging events.
type NATS struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	kvMu sync.Mutex
	kv   map[string]nats.KeyValue

	subMu sync.Mutex
	subs  []*natsSub
}

// NewNATS connects to the configured NATS server. Mirrors the teacher's
// NewClient: optional username/password or credentials-file auth, a
// disconnect/reconnect/error handler trio, then a single Connect call.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("bus: NATS address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("bus: NATS disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("bus: NATS reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		log.Errorf("bus: NATS error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: NATS connect failed: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: JetStream context failed: %w", err)
	}

	return &NATS{
		conn: nc,
		js:   js,
		kv:   make(map[string]nats.KeyValue),
	}, nil
}

func (n *NATS) bucket(kind, ns string) (nats.KeyValue, error) {
	name := kind + "_" + ns
	n.kvMu.Lock()
	defer n.kvMu.Unlock()

	if b, ok := n.kv[name]; ok {
		return b, nil
	}
	b, err := n.js.KeyValue(name)
	if err == nil {
		n.kv[name] = b
		return b, nil
	}
	b, err = n.js.CreateKeyValue(&nats.KeyValueConfig{Bucket: name})
	if err != nil {
		return nil, err
	}
	n.kv[name] = b
	return b, nil
}

func (n *NATS) getJSON(kind, ns, key string, out any) bool {
	b, err := n.bucket(kind, ns)
	if err != nil {
		return false
	}
	entry, err := b.Get(key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return false
	}
	return true
}

func (n *NATS) putJSON(kind, ns, key string, v any) error {
	b, err := n.bucket(kind, ns)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = b.Put(key, raw)
	return err
}

func (n *NATS) HSet(ns, key, field, value string) bool {
	m := map[string]string{}
	n.getJSON("hash", ns, key, &m)
	_, existed := m[field]
	m[field] = value
	_ = n.putJSON("hash", ns, key, m)
	return existed
}

func (n *NATS) HGet(ns, key, field string) (string, bool) {
	m := map[string]string{}
	if !n.getJSON("hash", ns, key, &m) {
		return "", false
	}
	v, ok := m[field]
	return v, ok
}

func (n *NATS) HGetAll(ns, key string) map[string]string {
	m := map[string]string{}
	if !n.getJSON("hash", ns, key, &m) {
		return nil
	}
	return m
}

func (n *NATS) HDel(ns, key, field string) {
	m := map[string]string{}
	if !n.getJSON("hash", ns, key, &m) {
		return
	}
	delete(m, field)
	_ = n.putJSON("hash", ns, key, m)
}

func (n *NATS) SAdd(ns, key, member string) bool {
	var members []string
	n.getJSON("set", ns, key, &members)
	for _, m := range members {
		if m == member {
			return false
		}
	}
	members = append(members, member)
	_ = n.putJSON("set", ns, key, members)
	return true
}

func (n *NATS) SMembers(ns, key string) []string {
	var members []string
	n.getJSON("set", ns, key, &members)
	return members
}

func (n *NATS) SIsMember(ns, key, member string) bool {
	var members []string
	n.getJSON("set", ns, key, &members)
	for _, m := range members {
		if m == member {
			return true
		}
	}
	return false
}

func (n *NATS) ZAdd(ns, key string, score float64, member string) {
	var entries []zentry
	n.getJSON("zset", ns, key, &entries)
	found := false
	for i := range entries {
		if entries[i].Member == member {
			entries[i].Score = score
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, zentry{Member: member, Score: score})
	}
	sortZEntries(entries)
	_ = n.putJSON("zset", ns, key, entries)
}

func (n *NATS) ZRange(ns, key string, lo, hi *float64) []string {
	var entries []zentry
	n.getJSON("zset", ns, key, &entries)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if lo != nil && e.Score < *lo {
			continue
		}
		if hi != nil && e.Score > *hi {
			continue
		}
		out = append(out, e.Member)
	}
	return out
}

func (n *NATS) ZCard(ns, key string) int {
	var entries []zentry
	n.getJSON("zset", ns, key, &entries)
	return len(entries)
}

// natsSub wraps a *nats.Subscription behind the bus.Subscription contract,
// fanning subjects into a buffered Message channel the way the teacher's
// SubscribeChan hands *nats.Msg off to caller-owned channels.
type natsSub struct {
	channel string
	sub     *nats.Subscription
	ch      chan Message
	once    sync.Once
	owner   *NATS
}

func (s *natsSub) Channel() string { return s.channel }

func (s *natsSub) Close() {
	s.once.Do(func() {
		_ = s.sub.Unsubscribe()
		close(s.ch)
		s.owner.removeSub(s)
	})
}

func (n *NATS) removeSub(target *natsSub) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for i, s := range n.subs {
		if s == target {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
}

func (n *NATS) Subscribe(channel string) Subscription {
	sub := &natsSub{channel: channel, ch: make(chan Message, subscriberQueueDepth), owner: n}
	natsSubscription, err := n.conn.Subscribe(channel, func(msg *nats.Msg) {
		select {
		case sub.ch <- Message{Channel: channel, Payload: string(msg.Data)}:
		default:
		}
	})
	if err != nil {
		log.Warnf("bus: NATS subscribe to %q failed: %v", channel, err)
		close(sub.ch)
		return sub
	}
	sub.sub = natsSubscription

	n.subMu.Lock()
	n.subs = append(n.subs, sub)
	n.subMu.Unlock()
	return sub
}

func (n *NATS) Publish(channel, payload string) {
	if err := n.conn.Publish(channel, []byte(payload)); err != nil {
		log.Warnf("bus: NATS publish to %q failed: %v", channel, err)
	}
}

func (n *NATS) PublishStop() {
	n.subMu.Lock()
	channels := make(map[string]struct{}, len(n.subs))
	for _, s := range n.subs {
		channels[s.channel] = struct{}{}
	}
	n.subMu.Unlock()

	for ch := range channels {
		n.Publish(ch, StopProcess)
	}
}

func (n *NATS) GetMessage(ctx context.Context, sub Subscription, timeout time.Duration) (Message, bool) {
	ns, ok := sub.(*natsSub)
	if !ok {
		return Message{}, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, open := <-ns.ch:
		return msg, open
	case <-ctx.Done():
		return Message{}, false
	case <-timer.C:
		return Message{}, false
	}
}

func (n *NATS) Close() error {
	n.subMu.Lock()
	for _, s := range n.subs {
		s.once.Do(func() {
			_ = s.sub.Unsubscribe()
			close(s.ch)
		})
	}
	n.subs = nil
	n.subMu.Unlock()

	n.conn.Close()
	return nil
}

func sortZEntries(entries []zentry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Score < entries[j-1].Score; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

var _ Store = (*NATS)(nil)
