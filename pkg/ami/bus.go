package ami

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
)

// Sink receives decoded records. Implementations MUST NOT block —
// the bus already isolates slow consumers behind a bounded queue, but
// a Sink that never returns still starves its own queue and causes
// drops, never the read path.
type Sink interface {
	Deliver(providerTitle string, rec Record)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(providerTitle string, rec Record)

// Deliver implements Sink.
func (f SinkFunc) Deliver(providerTitle string, rec Record) { f(providerTitle, rec) }

// Predicate decides whether a subscription wants a given record.
type Predicate func(rec Record) bool

// AllEvents matches every record.
func AllEvents(Record) bool { return true }

// EventNamed matches events whose Name equals name (case-insensitive).
func EventNamed(name string) Predicate {
	return func(rec Record) bool {
		e, ok := rec.(*Event)
		return ok && strEqualFold(e.Name, name)
	}
}

func strEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Handle identifies a registered subscription, for Unsubscribe.
type Handle struct {
	id uint64
}

const subscriberQueueSize = 256

type subscription struct {
	id   uint64
	pred Predicate
	sink Sink
	ch   chan deliverMsg
	stop chan struct{}
	wg   *sync.WaitGroup
}

type deliverMsg struct {
	provider string
	rec      Record
}

// Bus fans decoded records out to subscribers. It is designed to
// outlive any single Session: the Supervisor owns one Bus shared
// across a provider's successive sessions (spec section 4.6/4.8),
// so reattaching after a reconnect never re-creates subscriber state.
//
// The subscriber list is copy-on-write (an atomic.Value holding the
// current []*subscription snapshot): Deliver, the hot path called from
// every session's read loop, never takes a lock.
type Bus struct {
	mu      sync.Mutex
	current atomic.Value // []*subscription
	nextID  uint64
	log     log15.Logger
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus(logger log15.Logger) *Bus {
	if logger == nil {
		logger = discardLogger()
	}
	b := &Bus{log: logger}
	b.current.Store([]*subscription{})
	return b
}

func (b *Bus) snapshot() []*subscription {
	return b.current.Load().([]*subscription)
}

// Subscribe registers sink for records matching pred. Delivery to sink
// happens on a dedicated goroutine per subscription, never on the
// caller's or the session's goroutine.
func (b *Bus) Subscribe(pred Predicate, sink Sink) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		id:   b.nextID,
		pred: pred,
		sink: sink,
		ch:   make(chan deliverMsg, subscriberQueueSize),
		stop: make(chan struct{}),
		wg:   &sync.WaitGroup{},
	}
	sub.wg.Add(1)
	go sub.run()

	cur := b.snapshot()
	next := make([]*subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, sub)
	b.current.Store(next)

	return Handle{id: sub.id}
}

func (s *subscription) run() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.ch:
			s.sink.Deliver(msg.provider, msg.rec)
		case <-s.stop:
			return
		}
	}
}

// Unsubscribe removes a previously registered subscription. It does
// not wait for its goroutine to drain pending deliveries; use
// Shutdown for that deterministic guarantee.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.snapshot()
	next := make([]*subscription, 0, len(cur))
	for _, s := range cur {
		if s.id == h.id {
			close(s.stop)
			continue
		}
		next = append(next, s)
	}
	b.current.Store(next)
}

// Deliver hands rec to every subscription whose predicate matches, for
// the named provider. It never blocks: a subscription whose queue is
// full has the record dropped and logged, not the read path stalled.
func (b *Bus) Deliver(providerTitle string, rec Record) {
	for _, s := range b.snapshot() {
		if !s.pred(rec) {
			continue
		}
		select {
		case s.ch <- deliverMsg{provider: providerTitle, rec: rec}:
		default:
			b.log.Warn("dropping event, subscriber queue full", "provider", providerTitle)
		}
	}
}

// Shutdown stops every subscription goroutine and waits (bounded by
// grace) for in-flight Deliver calls to finish, satisfying "Stop ⇒ no
// subscriber callback begins execution after Stop returns" (spec
// section 8). Subscriptions are NOT removed — Shutdown is for process
// teardown, not for disposing the shared set across a reconnect.
func (b *Bus) Shutdown(grace time.Duration) {
	subs := b.snapshot()
	for _, s := range subs {
		select {
		case <-s.stop:
		default:
			close(s.stop)
		}
	}
	done := make(chan struct{})
	go func() {
		for _, s := range subs {
			s.wg.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		b.log.Warn("bus shutdown grace period elapsed, abandoning subscriber goroutines")
	}
}

func discardLogger() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}
