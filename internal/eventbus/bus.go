// Package eventbus fans engine events out to UI subscribers (Telegram
// notifications, status page, logs) without coupling them to the engine.
package eventbus

import (
	"sync"
	"time"
)

// Event is a small in-memory signal. Data holds one of the payload types in
// events.go.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks a publisher. A subscriber whose buffer is full misses the
// event; Dropped counts those misses.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel receiving events of the given
	// types (all types when none are given) and a func that unsubscribes and
	// closes the channel.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscriber) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	next    uint64
	dropped uint64
}

// Publish sends under the read lock; sends are non-blocking, so holding it is
// brief, and unsubscribe cannot close a channel mid-send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	var missed uint64
	b.mu.RLock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			missed++
		}
	}
	b.mu.RUnlock()

	if missed > 0 {
		b.mu.Lock()
		b.dropped += missed
		b.mu.Unlock()
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
