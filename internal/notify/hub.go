package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Hub is the broadcast channel for outward notifications. The zero
// value is not usable; call NewHub.
type Hub struct {
	mu          sync.Mutex
	subs        map[int64]*subscriber
	nextSub     int64
	initialized bool
	closed      bool

	published atomic.Int64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]*subscriber)}
}

// Subscription is one listener's view of the hub. Events arrive on C
// in publish order; C closes once the subscription is canceled or the
// hub shuts down and the backlog has been delivered or abandoned.
type Subscription struct {
	C <-chan Event

	hub *Hub
	sub *subscriber
	id  int64
}

// Cancel detaches the subscription. Pending events are dropped.
func (s *Subscription) Cancel() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	s.sub.cancel()
}

// Subscribe attaches a new listener. If initialization already
// completed, the listener immediately receives a replayed
// InitializedEvent before anything published later.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := newSubscriber()
	if h.initialized {
		sub.enqueue(InitializedEvent{})
	}
	if h.closed {
		sub.close()
	} else {
		h.nextSub++
		h.subs[h.nextSub] = sub
	}
	go sub.run()
	return &Subscription{C: sub.ch, hub: h, sub: sub, id: h.nextSub}
}

// Publish broadcasts one event. It never blocks on subscribers.
// Publishing after Close is a no-op.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if _, ok := ev.(InitializedEvent); ok {
		h.initialized = true
	}
	h.published.Add(1)
	for _, sub := range h.subs {
		sub.enqueue(ev)
	}
}

// Published reports how many events have been broadcast.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close shuts the hub down. Each subscriber's backlog is still
// delivered to consumers that keep reading, then its channel closes; a
// consumer that stopped reading is abandoned after a grace period.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.close()
		delete(h.subs, id)
	}
}

// subscriber pairs an unbounded FIFO with the goroutine draining it
// into the consumer channel. The FIFO absorbs any publish rate, so
// Publish never waits on a slow consumer.
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fifo   *queue.Queue
	closed bool

	ch        chan Event
	done      chan struct{}
	doneOnce  sync.Once
	closing   chan struct{}
	closeOnce sync.Once
}

// drainGrace is how long a shutdown drain waits on a consumer that has
// stopped reading before abandoning the rest of its backlog.
const drainGrace = 250 * time.Millisecond

func newSubscriber() *subscriber {
	s := &subscriber{
		fifo:    queue.New(),
		ch:      make(chan Event, 16),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fifo.Add(ev)
	s.cond.Signal()
}

// close stops intake; the run loop drains what is queued and exits. A
// send already blocked on the consumer switches to the grace-bounded
// path through the closing signal.
func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closing) })
	s.cond.Signal()
}

// cancel stops intake and abandons delivery immediately.
func (s *subscriber) cancel() {
	s.close()
	s.doneOnce.Do(func() { close(s.done) })
}

// send delivers one event, reporting whether the loop should continue.
// After close it allows the consumer one grace period per event, so a
// consumer that stopped reading cannot wedge the goroutine.
func (s *subscriber) send(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-s.closing:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-time.After(drainGrace):
		return false
	}
}

func (s *subscriber) run() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for s.fifo.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.fifo.Length() == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.fifo.Remove().(Event)
		s.mu.Unlock()

		if !s.send(ev) {
			return
		}
	}
}
