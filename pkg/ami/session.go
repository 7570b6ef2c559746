package ami

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"
)

// State is a Session's position in the state machine of spec section 3:
// Dialling -> GreetingAwaited -> Challenging -> Authenticating -> Online
// -> Draining -> Closed, with Failed reachable from any non-Closed state.
type State int32

const (
	Dialling State = iota
	GreetingAwaited
	Challenging
	Authenticating
	Online
	Draining
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Dialling:
		return "Dialling"
	case GreetingAwaited:
		return "GreetingAwaited"
	case Challenging:
		return "Challenging"
	case Authenticating:
		return "Authenticating"
	case Online:
		return "Online"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Credentials selects the login mode: plaintext (Username/Secret) or
// MD5 challenge/response (spec section 4.5/6).
type Credentials struct {
	Username string
	Secret   string
	UseMD5   bool
	// EventMask, if non-empty, is sent as the Login action's Events
	// field, toggling which event categories the server emits on this
	// connection (spec section 6).
	EventMask string
}

// Disconnected is delivered to subscribers when a session closes, for
// any reason, per spec section 4.5 ("All subscribers are notified via
// a Disconnected(reason) signal").
type Disconnected struct {
	base
	Reason error
}

const writeQueueSize = 64

type writeRequest struct {
	data []byte
}

// Session is one persistent, authenticated conversation with one
// Asterisk server (spec section 4.5). It owns the transport and runs
// exactly one read task and one write task.
type Session struct {
	conn          net.Conn
	framer        *Framer
	registry      *Registry
	correlator    *Correlator
	bus           *Bus
	providerTitle string
	ids           *idGenerator
	log           log15.Logger

	defaultTimeout time.Duration
	keepAlive      time.Duration

	writeCh chan writeRequest

	stateMu sync.Mutex
	state   State

	lastPacket atomic.Int64 // unix nanos

	closeOnce sync.Once
	closedCh  chan struct{}
	closeErr  error

	cancel context.CancelFunc
	group  *errgroup.Group
}

// SessionConfig bundles the construction-time dependencies shared
// across a provider's successive sessions: the decoded-record
// registry, the shared subscription Bus, and logging/timeout policy.
type SessionConfig struct {
	Registry       *Registry
	Bus            *Bus
	ProviderTitle  string
	DefaultTimeout time.Duration
	KeepAlive      time.Duration
	Logger         log15.Logger
}

// NewSession wraps an already-dialled transport. Callers that want TLS
// dial their own *tls.Conn and pass it here — the session doesn't
// care how the transport was established.
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Bus == nil {
		cfg.Bus = NewBus(cfg.Logger)
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Session{
		conn:           conn,
		framer:         NewFramer(conn),
		registry:       cfg.Registry,
		bus:            cfg.Bus,
		providerTitle:  cfg.ProviderTitle,
		ids:            newIDGenerator(),
		log:            logger,
		defaultTimeout: cfg.DefaultTimeout,
		keepAlive:      cfg.KeepAlive,
		writeCh:        make(chan writeRequest, writeQueueSize),
		closedCh:       make(chan struct{}),
		correlator:     NewCorrelator(cfg.Bus, cfg.ProviderTitle, cfg.DefaultTimeout, logger),
	}
}

// State returns the session's current position in the state machine.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Closed returns a channel closed once the session has fully torn
// down, for whatever reason. Err() explains why.
func (s *Session) Closed() <-chan struct{} { return s.closedCh }

// Err returns the reason the session closed, if it has.
func (s *Session) Err() error { return s.closeErr }

// Connect performs the greeting and login sequence synchronously, then
// starts the steady-state read/write tasks. On any failure the
// transport is closed and the state machine lands in Failed.
func (s *Session) Connect(ctx context.Context, creds Credentials) error {
	s.setState(GreetingAwaited)

	if dl, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(dl)
	}

	if _, err := s.framer.ReadGreeting(); err != nil {
		s.setState(Failed)
		s.conn.Close()
		return err
	}

	if err := s.login(creds); err != nil {
		s.setState(Failed)
		s.conn.Close()
		return err
	}

	s.conn.SetReadDeadline(time.Time{})
	s.setState(Online)
	s.touchLastPacket()
	s.startTasks()
	return nil
}

func (s *Session) login(creds Credentials) error {
	if creds.UseMD5 {
		s.setState(Challenging)
		challengeID := s.ids.next()
		s.writeRaw(encode(Action{Name: "Challenge", Fields: []KV{{Key: "AuthType", Value: "MD5"}}}, challengeID))

		pkt, err := s.framer.ReadPacket()
		if err != nil {
			return err
		}
		rec := decode(pkt, s.registry)
		ar, ok := rec.(*ActionResponse)
		if !ok || ar.Response != ResponseSuccess {
			return newError(KindAuthenticationFailed, "challenge rejected", nil)
		}
		nonce := ar.Extras()["challenge"]

		s.setState(Authenticating)
		sum := md5.Sum([]byte(nonce + creds.Secret))
		key := hex.EncodeToString(sum[:])

		loginID := s.ids.next()
		fields := []KV{
			{Key: "AuthType", Value: "MD5"},
			{Key: "Username", Value: creds.Username},
			{Key: "Key", Value: key},
		}
		if creds.EventMask != "" {
			fields = append(fields, KV{Key: "Events", Value: creds.EventMask})
		}
		s.writeRaw(encode(Action{Name: "Login", Fields: fields}, loginID))

		pkt, err = s.framer.ReadPacket()
		if err != nil {
			return err
		}
		rec = decode(pkt, s.registry)
		ar, ok = rec.(*ActionResponse)
		if !ok || ar.Response != ResponseSuccess {
			return newError(KindAuthenticationFailed, "login rejected", nil)
		}
		return nil
	}

	s.setState(Authenticating)
	fields := []KV{
		{Key: "Username", Value: creds.Username},
		{Key: "Secret", Value: creds.Secret},
	}
	if creds.EventMask != "" {
		fields = append(fields, KV{Key: "Events", Value: creds.EventMask})
	}
	loginID := s.ids.next()
	s.writeRaw(encode(Action{Name: "Login", Fields: fields}, loginID))

	pkt, err := s.framer.ReadPacket()
	if err != nil {
		return err
	}
	rec := decode(pkt, s.registry)
	ar, ok := rec.(*ActionResponse)
	if !ok || ar.Response != ResponseSuccess {
		return newError(KindAuthenticationFailed, "login rejected", nil)
	}
	return nil
}

func (s *Session) writeRaw(data []byte) error {
	_, err := s.conn.Write(data)
	if err != nil {
		return newError(KindTransport, "write failed", err)
	}
	return nil
}

func (s *Session) startTasks() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error { return s.readLoop() })
	group.Go(func() error { return s.writeLoop(ctx) })
	if s.keepAlive > 0 {
		group.Go(func() error { return s.keepAliveLoop(ctx) })
	}

	go func() {
		err := group.Wait()
		s.teardown(err)
	}()
}

func (s *Session) readLoop() error {
	for {
		pkt, err := s.framer.ReadPacket()
		if err != nil {
			if kind, ok := KindOf(err); ok && kind == KindMalformedPacket {
				s.log.Warn("discarding malformed packet", "error", err)
				continue
			}
			return err
		}
		rec := decode(pkt, s.registry)
		s.touchLastPacket()
		s.correlator.Deliver(rec)
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case req := <-s.writeCh:
			if _, err := s.conn.Write(req.data); err != nil {
				return newError(KindTransport, "write failed", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	stallAfter := 2 * s.keepAlive

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.sinceLastPacket() > stallAfter {
				return newError(KindTransport, "stalled: "+fmtStalled(stallAfter), nil)
			}
			_, _ = s.Submit(context.Background(), Action{Name: "Ping"})
		}
	}
}

func (s *Session) touchLastPacket() {
	s.lastPacket.Store(time.Now().UnixNano())
}

func (s *Session) sinceLastPacket() time.Duration {
	last := s.lastPacket.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

var errNotOnline = newError(KindDisconnected, "session is not Online", nil)

// Submit encodes and sends action, registering it with the correlator
// before any bytes hit the wire. A saturated write queue resolves
// immediately with Busy rather than blocking the caller (spec section
// 5's shared-resource policy).
func (s *Session) Submit(ctx context.Context, action Action) (*Future, error) {
	if s.State() != Online {
		return nil, errNotOnline
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}

	spec := s.registry.SpecFor(action.Name)
	if action.Shape != nil {
		spec = *action.Shape
	}

	actionID := s.ids.next()
	timeout := s.defaultTimeout
	future := s.correlator.Register(actionID, spec, timeout)
	data := encode(action, actionID)

	select {
	case s.writeCh <- writeRequest{data: data}:
	default:
		s.correlator.Cancel(actionID)
		return nil, newError(KindBusy, "write queue saturated", nil)
	}
	return future, nil
}

// Subscribe registers sink on the session's shared Bus. Prefer
// Supervisor.Subscribe in multi-provider setups — this exists for
// single-session callers that never go through a Supervisor.
func (s *Session) Subscribe(pred Predicate, sink Sink) Handle {
	return s.bus.Subscribe(pred, sink)
}

// Unsubscribe removes a subscription previously registered on this
// session's Bus.
func (s *Session) Unsubscribe(h Handle) { s.bus.Unsubscribe(h) }

// Close transitions the session through Draining to Closed: no new
// submissions are accepted (Submit already checks State()), in-flight
// actions are failed with Disconnected, a best-effort Logoff is sent,
// and the transport is closed.
func (s *Session) Close(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == Closed || s.state == Failed {
		s.stateMu.Unlock()
		return nil
	}
	s.state = Draining
	s.stateMu.Unlock()

	if s.State() == Draining {
		// Best-effort: ignore failures, we're tearing down anyway.
		logoffID := s.ids.next()
		s.writeRaw(encode(Action{Name: "Logoff"}, logoffID))
	}

	s.teardown(nil)
	return nil
}

// teardown is idempotent and is the single path by which a session
// ever reaches Closed: a clean Close() call, a read/write task
// returning an error, or the keepalive loop detecting a stall.
func (s *Session) teardown(reason error) {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.conn.Close()
		s.correlator.FailAll(reason)

		if reason == nil {
			reason = errors.New("session closed")
		}
		s.closeErr = reason
		s.setState(Closed)

		s.bus.Deliver(s.providerTitle, &Disconnected{Reason: reason})
		close(s.closedCh)
	})
}

// Ping is a convenience wrapper for the universal health-check action.
func (s *Session) Ping(ctx context.Context) (Outcome, error) {
	fut, err := s.Submit(ctx, Action{Name: "Ping"})
	if err != nil {
		return Outcome{}, err
	}
	return fut.Wait(ctx)
}

// Originate submits an Originate action. When trackAsync is true the
// action is registered as an EventSeries terminated by
// OriginateResponse, per the resolved open question in spec section 9
// — used for async originations where the caller wants the trailing
// completion event rather than just the immediate Success/Error ack.
func (s *Session) Originate(ctx context.Context, fields []KV, variables []KV, trackAsync bool) (*Future, error) {
	action := Action{Name: "Originate", Fields: fields, Variable: variables}
	if trackAsync {
		action.Shape = &ActionSpec{Shape: EventSeries, Terminator: "OriginateResponse"}
	}
	return s.Submit(ctx, action)
}

func fmtStalled(interval time.Duration) string {
	return fmt.Sprintf("no packet received within %s", interval)
}
