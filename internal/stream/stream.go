// Package stream fan-outs mirror mutations to subscribers. The out-of-scope
// delivery layer (websocket push, mail) consumes this via the SSE endpoint.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/ids"
)

// Notification describes one store mutation worth telling clients about.
type Notification struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`   // e.g. "public-key-saved", "hospital-revoked"
	Entity string    `json:"entity"` // entity collection name
	Key    string    `json:"key"`    // natural key, stringified
	At     time.Time `json:"at"`
}

// Stream fan-outs notifications to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Notification
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Notification)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// notifications. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Notification {
	ch := make(chan Notification, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
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

// Publish fan-outs the notification to all subscribers, stamping id and time
// when absent.
func (s *Stream) Publish(n Notification) {
	if n.ID == "" {
		n.ID = ids.New()
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
