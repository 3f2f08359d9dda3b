// Package stream fans recorded changes out to live subscribers.
package stream

import (
	"context"
	"sync"

	"sif3.org/internal/changes"
)

// Stream fan-outs change events to all active subscribers of a collection.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	collection string
	ch         chan changes.Entry
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for one collection and returns a channel
// which will receive its events. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, collection string) <-chan changes.Entry {
	ch := make(chan changes.Entry, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{collection: collection, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the entry to the collection's subscribers. Slow
// subscribers miss events and recover through changes-since polling.
func (s *Stream) Publish(e changes.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.collection != e.Collection {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
