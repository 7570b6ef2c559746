// Package supervisor implements C8: a multi-provider orchestrator that
// runs one reconnect loop per provider, applies the retry policy, and
// owns a subscription set shared across every provider's successive
// sessions.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"

	"github.com/sufficit/asterisk-manager-go/pkg/ami"
	"github.com/sufficit/asterisk-manager-go/pkg/health"
	"github.com/sufficit/asterisk-manager-go/pkg/provider"
)

// Supervisor owns a set of Providers and one subscription Bus shared
// across all of them: a Subscribe call is wired to every provider's
// current and future sessions without re-registering (spec section
// 4.8). Because the Bus is global, a provider removed by Reload stops
// contributing records the moment its session closes — subscriptions
// themselves are never torn down, satisfying "dropped... for that
// provider only, not a global unsubscribe" without per-provider
// bookkeeping.
type Supervisor struct {
	mu        sync.RWMutex
	providers map[string]*provider.Provider
	policy    RetryPolicy
	healthCfg health.Config
	bus       *ami.Bus
	log       log15.Logger

	lastEventAt atomic.Value // time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// New builds an empty Supervisor. Providers are added with AddProvider
// before Start, or supplied wholesale via Reload.
func New(policy RetryPolicy, healthCfg health.Config, logger log15.Logger) *Supervisor {
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}
	s := &Supervisor{
		providers: map[string]*provider.Provider{},
		policy:    policy,
		healthCfg: healthCfg,
		bus:       ami.NewBus(logger),
		log:       logger,
	}
	s.lastEventAt.Store(time.Time{})
	s.bus.Subscribe(ami.AllEvents, ami.SinkFunc(func(string, ami.Record) {
		s.lastEventAt.Store(time.Now())
	}))
	return s
}

// AddProvider registers a provider configuration. Safe to call before
// Start; after Start, use Reload.
func (s *Supervisor) AddProvider(cfg provider.Config) *provider.Provider {
	p := provider.New(cfg, provider.WithBus(s.bus), provider.WithLogger(s.log.New("provider", cfg.Title)))
	s.mu.Lock()
	s.providers[cfg.Title] = p
	s.mu.Unlock()
	return p
}

// Subscribe registers sink for records matching predicate, across
// every provider this supervisor owns, now and after any reconnect.
func (s *Supervisor) Subscribe(predicate ami.Predicate, sink ami.Sink) ami.Handle {
	return s.bus.Subscribe(predicate, sink)
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (s *Supervisor) Unsubscribe(h ami.Handle) { s.bus.Unsubscribe(h) }

// Start launches one reconnect loop per registered provider. It
// returns once the loops are running; it does not block.
func (s *Supervisor) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)
	s.cancel = cancel
	s.group = group
	s.done = make(chan struct{})

	s.mu.RLock()
	provs := make([]*provider.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		provs = append(provs, p)
	}
	s.mu.RUnlock()

	for _, p := range provs {
		p := p
		group.Go(func() error {
			s.reconnectLoop(runCtx, p)
			return nil
		})
	}

	go func() {
		group.Wait()
		close(s.done)
	}()
	return nil
}

func (s *Supervisor) reconnectLoop(ctx context.Context, p *provider.Provider) {
	attempt := 1
	delay := s.policy.InitialRetryDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sess, err := p.Connect(ctx)
		if err == nil {
			attempt = 1
			delay = s.policy.InitialRetryDelay

			select {
			case <-sess.Closed():
				p.Release()
			case <-ctx.Done():
				sess.Close(context.Background())
				return
			}
			continue
		}

		if kind, ok := ami.KindOf(err); ok && kind == ami.KindAuthenticationFailed && s.policy.StopOnAuthenticationFailure {
			s.log.Error("authentication failed, stopping reconnect loop", "provider", p.Title(), "error", err)
			return
		}

		if !s.policy.EnableInitialRetry {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = s.policy.nextDelay(delay)
		attempt++
		if s.policy.MaxAttempts > 0 && attempt > s.policy.MaxAttempts {
			s.log.Warn("giving up after max attempts", "provider", p.Title(), "attempts", attempt-1)
			return
		}
	}
}

// Stop signals every reconnect loop and waits (bounded by grace) for
// clean closure. No subscriber callback is in flight after Stop
// returns, modulo the grace timeout.
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) error {
	if err := s.stopLoops(ctx, grace); err != nil {
		return err
	}
	s.bus.Shutdown(grace)
	return nil
}

// stopLoops cancels every reconnect loop, waits (bounded by grace) for
// them to exit and stops each provider, leaving the Bus running.
func (s *Supervisor) stopLoops(ctx context.Context, grace time.Duration) error {
	s.runMu.Lock()
	cancel := s.cancel
	done := s.done
	s.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn("supervisor stop grace period elapsed, abandoning reconnect loops")
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.RLock()
	provs := make([]*provider.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		provs = append(provs, p)
	}
	s.mu.RUnlock()
	for _, p := range provs {
		p.Stop(ctx)
	}
	return nil
}

// Reload stops all current loops, applies the new provider set — a
// provider matching an existing one by Config.Equal is reused rather
// than recreated, preserving its LastConnectedAt/LastError history —
// then restarts (spec section 4.8).
func (s *Supervisor) Reload(ctx context.Context, configs []provider.Config, grace time.Duration) error {
	if err := s.stopLoops(ctx, grace); err != nil {
		return err
	}

	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	next := map[string]*provider.Provider{}
	for _, cfg := range configs {
		if existing, ok := s.providers[cfg.Title]; ok && existing.Config().Equal(cfg) {
			next[cfg.Title] = existing
			continue
		}
		next[cfg.Title] = provider.New(cfg, provider.WithBus(s.bus), provider.WithLogger(s.log.New("provider", cfg.Title)))
	}
	s.providers = next
	s.mu.Unlock()

	return s.Start(ctx)
}

// CheckHealth delegates to the health package, building a snapshot
// from the live provider/session state.
func (s *Supervisor) CheckHealth() health.Report {
	s.mu.RLock()
	provs := make([]*provider.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		provs = append(provs, p)
	}
	s.mu.RUnlock()

	snapshots := make([]health.ProviderSnapshot, len(provs))
	for i, p := range provs {
		sess := p.Session()
		connected := sess != nil && sess.State() == ami.Online
		snapshots[i] = health.ProviderSnapshot{
			Title:           p.Title(),
			Address:         fmt.Sprintf("%s:%d", p.Config().Address, p.Config().Port),
			HasTransport:    sess != nil,
			Connected:       connected,
			Authenticated:   connected,
			StatusText:      p.State().String(),
			LastError:       p.LastError(),
			LastConnectedAt: p.LastConnectedAt(),
		}
	}

	lastEvent, _ := s.lastEventAt.Load().(time.Time)
	return health.Evaluate(time.Now(), snapshots, lastEvent, s.healthCfg, nil)
}
