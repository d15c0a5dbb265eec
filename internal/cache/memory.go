package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	val []byte
	exp time.Time
}

type subscriber struct {
	ch chan []byte
}

// MemoryCache is an in-process Cache implementation: a TTL map plus a
// channel-fanout pub/sub, used for local development and unit tests where a
// Redis instance isn't available.
type MemoryCache struct {
	mu          sync.Mutex
	entries     map[string]memEntry
	subscribers map[string][]*subscriber
	now         func() time.Time
}

// NewMemoryCache builds an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:     make(map[string]memEntry),
		subscribers: make(map[string][]*subscriber),
		now:         time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && m.now().After(e.exp) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := m.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	var n int64 = 1
	if ok && (e.exp.IsZero() || !m.now().After(e.exp)) {
		n = decodeCounter(e.val) + 1
	}
	e = memEntry{val: encodeCounter(n)}
	if ttl > 0 {
		e.exp = m.now().Add(ttl)
	}
	m.entries[key] = e
	return n, nil
}

func (m *MemoryCache) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	subs := append([]*subscriber(nil), m.subscribers[channel]...)
	m.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

func (m *MemoryCache) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := &subscriber{ch: make(chan []byte, 16)}
	m.mu.Lock()
	m.subscribers[channel] = append(m.subscribers[channel], sub)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[channel]
		for i, s := range subs {
			if s == sub {
				m.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}
	return sub.ch, cancel, nil
}

func encodeCounter(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func decodeCounter(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
