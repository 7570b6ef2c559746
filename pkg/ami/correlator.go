package ami

import (
	"context"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
)

// Outcome is what a submitted action's Future resolves to on success.
// Response is always non-nil; Events is populated only for
// EventSeries actions and never includes the terminator itself (spec
// section 8, scenario 2).
type Outcome struct {
	Response *ActionResponse
	Events   []*Event
}

// Future is the handle returned by Correlator.Register / Session.Submit.
// It resolves exactly once, per spec section 8.
type Future struct {
	done       chan struct{}
	mu         sync.Mutex
	outcome    Outcome
	err        error
	resolved   bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(outcome Outcome, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.outcome, f.err = outcome, err
	f.mu.Unlock()
	close(f.done)
}

// Wait blocks until the future resolves or ctx is cancelled, whichever
// is first. A ctx cancellation here does not cancel the action itself
// — Correlator.Cancel does that; Session has no method exposing it.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, f.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Done reports whether the future has already resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

type inflight struct {
	spec     ActionSpec
	future   *Future
	response *ActionResponse
	events   []*Event
	timer    *time.Timer
	resolved bool
}

// Correlator tracks in-flight actions by ActionID for one session
// (spec section 4.4). Its in-flight table is guarded by a lock held
// only across map mutations and resolution signalling, never across
// I/O — resolving a Future is a channel close, not a blocking call.
type Correlator struct {
	mu             sync.Mutex
	table          map[string]*inflight
	defaultTimeout time.Duration
	log            log15.Logger
	bus            *Bus
	providerTitle  string
}

// NewCorrelator builds a Correlator that forwards records with no
// matching ActionID (i.e. plain events) to bus, tagged providerTitle.
func NewCorrelator(bus *Bus, providerTitle string, defaultTimeout time.Duration, logger log15.Logger) *Correlator {
	if logger == nil {
		logger = discardLogger()
	}
	return &Correlator{
		table:          map[string]*inflight{},
		defaultTimeout: defaultTimeout,
		log:            logger,
		bus:            bus,
		providerTitle:  providerTitle,
	}
}

// Register reserves actionID in the in-flight table and arms its
// timeout. It must be called before the caller writes the encoded
// action to the transport (spec section 2's control-flow note).
func (c *Correlator) Register(actionID string, spec ActionSpec, timeout time.Duration) *Future {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	fut := newFuture()
	entry := &inflight{spec: spec, future: fut}

	c.mu.Lock()
	c.table[actionID] = entry
	c.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() {
		c.finish(actionID, Outcome{}, newError(KindActionTimedOut, "action "+actionID+" timed out", nil))
	})
	return fut
}

// Cancel resolves actionID's future with ActionCancelled and releases
// its slot. Any subsequent record for actionID is dropped.
func (c *Correlator) Cancel(actionID string) {
	c.finish(actionID, Outcome{}, newError(KindActionCancelled, "action "+actionID+" cancelled", nil))
}

// finish resolves and removes the entry for actionID, if still present.
// Safe to call more than once (timeout racing with a late cancel, say)
// — only the first caller wins.
func (c *Correlator) finish(actionID string, outcome Outcome, err error) {
	c.mu.Lock()
	entry, ok := c.table[actionID]
	if !ok || entry.resolved {
		c.mu.Unlock()
		return
	}
	entry.resolved = true
	delete(c.table, actionID)
	c.mu.Unlock()

	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.future.resolve(outcome, err)
}

// Deliver routes one decoded record. Records without an ActionID, or
// with one unknown to this correlator, are forwarded to the bus as
// plain events (spec section 4.4).
func (c *Correlator) Deliver(rec Record) {
	id, hasID := rec.ActionID()

	if hasID {
		c.mu.Lock()
		entry, ok := c.table[id]
		c.mu.Unlock()
		if ok {
			c.route(id, entry, rec)
			return
		}
	}

	if evt, ok := rec.(*Event); ok {
		c.bus.Deliver(c.providerTitle, evt)
		return
	}
	// Unknown/ActionResponse records without a live in-flight entry
	// (a response that arrived after its action timed out, a Goodbye
	// with a stale ActionID) are still surfaced, for observability.
	c.bus.Deliver(c.providerTitle, rec)
}

func (c *Correlator) route(actionID string, entry *inflight, rec Record) {
	switch v := rec.(type) {
	case *ActionResponse:
		if entry.spec.Shape == Single || v.Response == ResponseError {
			c.finish(actionID, Outcome{Response: v, Events: entry.events}, nil)
			return
		}
		// EventSeries: stash the response, keep the slot open for the
		// trailing events until the terminator arrives.
		c.stashResponse(entry, v)
	case *Event:
		isTerminator := v.Terminator && strEqualFold(v.Name, entry.spec.Terminator)
		c.mu.Lock()
		_, stillLive := c.table[actionID]
		if stillLive && !isTerminator {
			entry.events = append(entry.events, v)
		}
		c.mu.Unlock()
		if !stillLive {
			return
		}
		if isTerminator {
			c.finishEventSeries(actionID, entry)
		}
	default:
		c.bus.Deliver(c.providerTitle, rec)
	}
}

// stashResponse records the action's response without resolving the
// future yet (EventSeries path); finishEventSeries reads it back once
// the terminator event arrives.
func (c *Correlator) stashResponse(entry *inflight, resp *ActionResponse) {
	c.mu.Lock()
	entry.response = resp
	c.mu.Unlock()
}

func (c *Correlator) finishEventSeries(actionID string, entry *inflight) {
	c.mu.Lock()
	resp := entry.response
	events := entry.events
	c.mu.Unlock()
	c.finish(actionID, Outcome{Response: resp, Events: events}, nil)
}

// FailAll resolves every in-flight entry with Disconnected, per
// session teardown (spec section 4.4/4.5).
func (c *Correlator) FailAll(cause error) {
	c.mu.Lock()
	entries := make(map[string]*inflight, len(c.table))
	for id, e := range c.table {
		entries[id] = e
	}
	c.table = map[string]*inflight{}
	c.mu.Unlock()

	err := newError(KindDisconnected, "session closed with action in flight", cause)
	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.future.resolve(Outcome{}, err)
	}
}
