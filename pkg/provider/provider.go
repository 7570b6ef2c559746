// Package provider implements C7 of the runtime: a thin, named wrapper
// around one configured Asterisk endpoint and the single Session it
// owns at a time.
package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/sufficit/asterisk-manager-go/pkg/ami"
)

// State is the provider's position in Idle -> Connecting ->
// Connected -> Reconnecting -> Stopped (spec section 3).
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Config is a provider's configuration surface, per spec section 6.
type Config struct {
	Title                string
	Address              string
	Port                 int
	Username             string
	Secret               string
	UseMD5               bool
	UseTLS               bool
	InsecureSkipVerify   bool
	EventMask            string
	KeepAliveInterval    time.Duration
	DefaultActionTimeout time.Duration
}

func (c Config) port() int {
	if c.Port > 0 {
		return c.Port
	}
	return 5038
}

// Equal reports whether two configs describe the same logical
// endpoint with the same credentials, the comparison Supervisor.Reload
// uses to decide reuse-vs-recreate (spec section 4.8).
func (c Config) Equal(o Config) bool {
	return c.Title == o.Title &&
		c.Address == o.Address &&
		c.port() == o.port() &&
		c.Username == o.Username &&
		c.Secret == o.Secret &&
		c.UseMD5 == o.UseMD5 &&
		c.UseTLS == o.UseTLS &&
		c.EventMask == o.EventMask
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.port())
}

// Provider owns at most one live Session at a time and exposes the
// connect/disconnect lifecycle and observability accessors a
// Supervisor's reconnect loop needs (spec section 4.7).
type Provider struct {
	cfg      Config
	registry *ami.Registry
	bus      *ami.Bus
	log      log15.Logger

	mu              sync.RWMutex
	state           State
	session         *ami.Session
	lastError       error
	lastConnectedAt time.Time
}

// Option configures a Provider at construction.
type Option func(*Provider)

// WithRegistry overrides the default registry used to decode records.
func WithRegistry(r *ami.Registry) Option {
	return func(p *Provider) { p.registry = r }
}

// WithBus installs a shared subscription bus, letting a Supervisor
// wire the same Bus across every Provider it owns.
func WithBus(b *ami.Bus) Option {
	return func(p *Provider) { p.bus = b }
}

// WithLogger overrides the default discard logger.
func WithLogger(l log15.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// New builds a Provider for cfg. The Bus is created empty unless
// WithBus supplies one — pass the same Bus to every Provider under a
// Supervisor so subscriptions survive reconnects.
func New(cfg Config, opts ...Option) *Provider {
	p := &Provider{cfg: cfg, state: Idle}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = ami.DefaultRegistry()
	}
	if p.log == nil {
		l := log15.New("provider", cfg.Title)
		l.SetHandler(log15.DiscardHandler())
		p.log = l
	}
	if p.bus == nil {
		p.bus = ami.NewBus(p.log)
	}
	return p
}

// Title returns the provider's configured name.
func (p *Provider) Title() string { return p.cfg.Title }

// Config returns the provider's current configuration.
func (p *Provider) Config() Config { return p.cfg }

// Bus returns the shared subscription bus every successive session is
// wired to.
func (p *Provider) Bus() *ami.Bus { return p.bus }

// State returns the provider's current lifecycle state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastError returns the most recent connection failure, if any.
func (p *Provider) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastError
}

// LastConnectedAt returns the timestamp of the most recent successful
// connection, the zero Time if there has never been one.
func (p *Provider) LastConnectedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastConnectedAt
}

// Session returns the currently owned session, or nil if disconnected.
func (p *Provider) Session() *ami.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

func (p *Provider) setState(st State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}

// Connect dials, performs the AMI login sequence, and returns the new
// Session wired to the provider's shared Bus. The caller (normally the
// Supervisor's reconnect loop) owns waiting on Session.Closed().
func (p *Provider) Connect(ctx context.Context) (*ami.Session, error) {
	p.setState(Connecting)

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.addr())
	if err != nil {
		p.recordError(err)
		p.setState(Idle)
		return nil, err
	}

	if p.cfg.UseTLS {
		tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: p.cfg.InsecureSkipVerify})
		conn = tlsConn
	}

	sess := ami.NewSession(conn, ami.SessionConfig{
		Registry:       p.registry,
		Bus:            p.bus,
		ProviderTitle:  p.cfg.Title,
		DefaultTimeout: p.cfg.DefaultActionTimeout,
		KeepAlive:      p.cfg.KeepAliveInterval,
		Logger:         p.log,
	})

	creds := ami.Credentials{
		Username:  p.cfg.Username,
		Secret:    p.cfg.Secret,
		UseMD5:    p.cfg.UseMD5,
		EventMask: p.cfg.EventMask,
	}
	if err := sess.Connect(ctx, creds); err != nil {
		p.recordError(err)
		p.setState(Idle)
		return nil, err
	}

	p.mu.Lock()
	p.session = sess
	p.lastConnectedAt = time.Now()
	p.lastError = nil
	p.mu.Unlock()
	p.setState(Connected)

	return sess, nil
}

func (p *Provider) recordError(err error) {
	p.mu.Lock()
	p.lastError = err
	p.mu.Unlock()
}

// Disconnect closes the currently owned session, if any, and releases
// it. It does not alter the provider's configuration.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	sess := p.session
	p.session = nil
	p.mu.Unlock()

	if sess == nil {
		return nil
	}
	p.setState(Reconnecting)
	return sess.Close(ctx)
}

// Release clears the owned session reference without closing it
// (used once a session has already closed itself, so the reconnect
// loop's bookkeeping matches reality).
func (p *Provider) Release() {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
}

// Stop marks the provider Stopped and disconnects its session; a
// stopped provider's reconnect loop must exit rather than retry.
func (p *Provider) Stop(ctx context.Context) error {
	err := p.Disconnect(ctx)
	p.setState(Stopped)
	return err
}
