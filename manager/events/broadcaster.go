// Package events fans out log lines and job changes to viewers
package events

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cskr/pubsub"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

const (
	topic         = "events"
	DefaultBuffer = 256
)

// ErrSlowConsumer closes a subscription that fell behind the publisher
var ErrSlowConsumer = errors.New("subscriber too slow, events dropped")

type message struct {
	seq   uint64
	event model.Event
}

// Broadcaster never blocks publishers on subscribers: a subscriber that
// cannot keep up loses its subscription instead.
type Broadcaster struct {
	mutex  sync.Mutex
	hub    *pubsub.PubSub
	seq    uint64
	buffer int
	subs   int64
	closed bool
}

func New(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		hub:    pubsub.New(buffer),
		buffer: buffer,
	}
}

// Publish sends e to every current subscriber
func (b *Broadcaster) Publish(e model.Event) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.seq++
	b.hub.TryPub(message{seq: b.seq, event: e}, topic)
}

// Subscribe returns a handle receiving every event published from now on,
// until it is closed
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{
		b:    b,
		out:  make(chan model.Event, b.buffer),
		done: make(chan struct{}),
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		s.err = errors.New("broadcaster closed")
		s.once.Do(func() { close(s.done) })
		close(s.out)
		return s
	}
	s.in = b.hub.Sub(topic)
	atomic.AddInt64(&b.subs, 1)
	go s.relay(b.seq + 1)
	return s
}

// Len is the number of open subscriptions
func (b *Broadcaster) Len() int {
	return int(atomic.LoadInt64(&b.subs))
}

// Close ends every subscription
func (b *Broadcaster) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.hub.Shutdown()
}

func (b *Broadcaster) unsub(ch chan interface{}) {
	if ch == nil {
		// never subscribed
		return
	}
	atomic.AddInt64(&b.subs, -1)

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.closed {
		// the hub closes ch, which ends the relay
		b.hub.Unsub(ch, topic)
	}
}

type Subscription struct {
	b    *Broadcaster
	in   chan interface{}
	out  chan model.Event
	done chan struct{}
	once sync.Once

	mutex sync.Mutex
	err   error
}

// Events is closed once the subscription has ended
func (s *Subscription) Events() <-chan model.Event {
	return s.out
}

// Done is closed as soon as the subscription is closed, before Events
// is drained
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is ErrSlowConsumer when the subscription was dropped for falling behind
func (s *Subscription) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

func (s *Subscription) Close() {
	s.close(nil)
}

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.mutex.Lock()
		s.err = err
		s.mutex.Unlock()
		close(s.done)
		s.b.unsub(s.in)
	})
}

// relay forwards hub messages without ever blocking on the consumer.
// A full buffer or a gap in the sequence ends the subscription.
func (s *Subscription) relay(next uint64) {
	defer func() {
		// the hub shut down under us
		s.once.Do(func() {
			close(s.done)
			atomic.AddInt64(&s.b.subs, -1)
		})
		close(s.out)
	}()
	for raw := range s.in {
		select {
		case <-s.done:
			continue // draining until the hub lets go
		default:
		}
		m := raw.(message)
		if m.seq != next {
			s.close(ErrSlowConsumer)
			continue
		}
		next++
		select {
		case s.out <- m.event:
		default:
			s.close(ErrSlowConsumer)
		}
	}
}
