// Package history keeps a bounded in-memory record of recent game events
// for the events API and post-hoc debugging. Persistence of collections is
// the ledger's job; this buffer is deliberately lossy.
package history

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stashhunt/stashd/pkg"
)

// Store holds recent events in a ring buffer with time-based retention.
type Store struct {
	mu        sync.RWMutex
	retention time.Duration
	events    *ringBuffer
}

// NewStore creates an event history. capacity caps the buffer; retention
// bounds how far back reads go.
func NewStore(capacity int, retention time.Duration) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	return &Store{
		retention: retention,
		events:    newRingBuffer(capacity),
	}, nil
}

// Add records one event. The oldest event is dropped when the buffer is
// full.
func (s *Store) Add(ev pkg.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.add(ev)
}

// Query returns events after since, newest last. userID filters to one
// player when non-empty; limit <= 0 means no limit.
func (s *Store) Query(userID string, since time.Time, limit int) []pkg.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	floor := time.Now().Add(-s.retention)
	if since.Before(floor) {
		since = floor
	}

	out := make([]pkg.Event, 0, 16)
	for _, ev := range s.events.snapshot() {
		if !ev.Timestamp.After(since) {
			continue
		}
		if userID != "" && ev.UserID != userID {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Size returns the number of buffered events.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.size
}

// ringBuffer is a fixed-capacity event buffer. Callers hold the Store lock.
type ringBuffer struct {
	data []pkg.Event
	head int
	size int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{data: make([]pkg.Event, capacity)}
}

func (rb *ringBuffer) add(ev pkg.Event) {
	rb.data[rb.head] = ev
	rb.head = (rb.head + 1) % len(rb.data)
	if rb.size < len(rb.data) {
		rb.size++
	}
}

// snapshot returns buffered events in insertion order.
func (rb *ringBuffer) snapshot() []pkg.Event {
	out := make([]pkg.Event, 0, rb.size)
	start := rb.head - rb.size
	if start < 0 {
		start += len(rb.data)
	}
	for i := 0; i < rb.size; i++ {
		out = append(out, rb.data[(start+i)%len(rb.data)])
	}
	return out
}
