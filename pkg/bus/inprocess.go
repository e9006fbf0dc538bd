package bus

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InProcess is the default SSS implementation: Go-channel-backed pub/sub
// plus sync.RWMutex-guarded sharded maps for the hash/set/zset namespaces.
// Grounded on the teacher's internal/memorystore.Level locking pattern
// (RLock to read, Lock to create-on-miss) and pkg/nats.Client's
// subscription bookkeeping (a mutex-guarded slice of live subscriptions).
type InProcess struct {
	mu     sync.RWMutex
	hashes map[string]map[string]map[string]string
	sets   map[string]map[string]map[string]struct{}
	zsets  map[string]map[string]*zset

	subMu sync.Mutex
	subs  map[string][]*inprocSub
}

// NewInProcess constructs an empty in-process store.
func NewInProcess() *InProcess {
	return &InProcess{
		hashes: make(map[string]map[string]map[string]string),
		sets:   make(map[string]map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]*zset),
		subs:   make(map[string][]*inprocSub),
	}
}

func nsKey(ns, key string) string { return ns + "\x00" + key }

func (s *InProcess) HSet(ns, key, field, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := nsKey(ns, key)
	m, ok := s.hashes[k]
	if !ok {
		m = make(map[string]string)
		s.hashes[k] = m
	}
	_, existed := m[field]
	m[field] = value
	return existed
}

func (s *InProcess) HGet(ns, key, field string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.hashes[nsKey(ns, key)]
	if !ok {
		return "", false
	}
	v, ok := m[field]
	return v, ok
}

func (s *InProcess) HGetAll(ns, key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.hashes[nsKey(ns, key)]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *InProcess) HDel(ns, key, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.hashes[nsKey(ns, key)]; ok {
		delete(m, field)
	}
}

func (s *InProcess) SAdd(ns, key, member string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := nsKey(ns, key)
	m, ok := s.sets[k]
	if !ok {
		m = make(map[string]struct{})
		s.sets[k] = m
	}
	if _, exists := m[member]; exists {
		return false
	}
	m[member] = struct{}{}
	return true
}

func (s *InProcess) SMembers(ns, key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sets[nsKey(ns, key)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m))
	for member := range m {
		out = append(out, member)
	}
	return out
}

func (s *InProcess) SIsMember(ns, key, member string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sets[nsKey(ns, key)]
	if !ok {
		return false
	}
	_, ok = m[member]
	return ok
}

// zset holds (member, score) pairs ordered by score, ties broken by
// insertion order (append-then-stable-sort keeps insertion order stable).
type zset struct {
	entries []zentry
}

// zentry is exported-field so it round-trips through JSON in the NATS
// store's key/value buckets.
type zentry struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

func (s *InProcess) ZAdd(ns, key string, score float64, member string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := nsKey(ns, key)
	m, ok := s.zsets[k]
	if !ok {
		m = &zset{}
		s.zsets[k] = m
	}
	for i, e := range m.entries {
		if e.Member == member {
			m.entries[i].Score = score
			sort.SliceStable(m.entries, func(a, b int) bool { return m.entries[a].Score < m.entries[b].Score })
			return
		}
	}
	m.entries = append(m.entries, zentry{Member: member, Score: score})
	sort.SliceStable(m.entries, func(a, b int) bool { return m.entries[a].Score < m.entries[b].Score })
}

func (s *InProcess) ZRange(ns, key string, lo, hi *float64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.zsets[nsKey(ns, key)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
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

func (s *InProcess) ZCard(ns, key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.zsets[nsKey(ns, key)]
	if !ok {
		return 0
	}
	return len(m.entries)
}

// inprocSub is one subscriber's mailbox for a single channel.
type inprocSub struct {
	channel string
	ch      chan Message
	closed  chan struct{}
	once    sync.Once
	owner   *InProcess
}

func (s *inprocSub) Channel() string { return s.channel }

func (s *inprocSub) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.owner.removeSub(s)
	})
}

func (s *InProcess) removeSub(target *inprocSub) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	list := s.subs[target.channel]
	for i, sub := range list {
		if sub == target {
			s.subs[target.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// subscriberQueueDepth bounds per-subscriber buffering. The bus is
// non-durable (spec §4.1): once full, Publish drops rather than blocks.
const subscriberQueueDepth = 256

func (s *InProcess) Subscribe(channel string) Subscription {
	sub := &inprocSub{
		channel: channel,
		ch:      make(chan Message, subscriberQueueDepth),
		closed:  make(chan struct{}),
		owner:   s,
	}
	s.subMu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.subMu.Unlock()
	return sub
}

func (s *InProcess) Publish(channel, payload string) {
	s.subMu.Lock()
	subs := append([]*inprocSub(nil), s.subs[channel]...)
	s.subMu.Unlock()

	msg := Message{Channel: channel, Payload: payload}
	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			// Slow subscriber: drop. Authoritative state lives in the
			// hash/set/zset namespaces, so evidence is re-derivable.
		}
	}
}

func (s *InProcess) PublishStop() {
	s.subMu.Lock()
	channels := make([]string, 0, len(s.subs))
	for ch := range s.subs {
		channels = append(channels, ch)
	}
	s.subMu.Unlock()

	for _, ch := range channels {
		s.Publish(ch, StopProcess)
	}
}

func (s *InProcess) GetMessage(ctx context.Context, sub Subscription, timeout time.Duration) (Message, bool) {
	is, ok := sub.(*inprocSub)
	if !ok {
		return Message{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-is.ch:
		return msg, true
	case <-is.closed:
		return Message{}, false
	case <-ctx.Done():
		return Message{}, false
	case <-timer.C:
		return Message{}, false
	}
}

func (s *InProcess) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.closed) })
		}
	}
	s.subs = make(map[string][]*inprocSub)
	return nil
}
