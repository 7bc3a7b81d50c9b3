package control

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainevents/internal/core/config"
	"github.com/vietddude/chainevents/internal/core/cursor"
	"github.com/vietddude/chainevents/internal/indexing/health"
	"github.com/vietddude/chainevents/internal/infra/chain"
)

// Runner is the part of a listener the supervisor drives.
type Runner interface {
	health.Target
	Init(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Close() error
	UpdateURL(ctx context.Context, url string) error
	UpdateSpec(ctx context.Context, spec chain.Spec) error
	UpdateContractAddress(ctx context.Context, address string) error
}

// Factory builds a runner for one chain entry.
type Factory func(c config.ChainConfig) (Runner, error)

// Hooks run when a chain joins or leaves the supervised set.
type Hooks struct {
	Started func(c config.ChainConfig)
	Stopped func(chainID string)
}

// SupervisorConfig tunes reconciliation.
type SupervisorConfig struct {
	MaxErrors   int
	ErrorReset  time.Duration
	Parallelism int
}

type managed struct {
	runner   Runner
	cfg      config.ChainConfig
	errors   int
	disabled bool
}

// Supervisor keeps the running listeners in line with the desired chains.
type Supervisor struct {
	factory Factory
	hooks   Hooks
	cfg     SupervisorConfig
	log     *slog.Logger
	now     func() time.Time

	// reconcile serializes Reconcile; mu guards chains and the managed fields.
	reconcile sync.Mutex
	mu        sync.Mutex
	chains    map[string]*managed
	lastReset time.Time
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(factory Factory, hooks Hooks, cfg SupervisorConfig, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 4
	}
	if cfg.ErrorReset <= 0 {
		cfg.ErrorReset = 24 * time.Hour
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	s := &Supervisor{
		factory: factory,
		hooks:   hooks,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		chains:  make(map[string]*managed),
	}
	s.lastReset = s.now()
	return s
}

// Reconcile starts, updates and drops listeners so that they match desired.
func (s *Supervisor) Reconcile(ctx context.Context, desired []config.ChainConfig) {
	s.reconcile.Lock()
	defer s.reconcile.Unlock()

	s.mu.Lock()
	if s.now().Sub(s.lastReset) >= s.cfg.ErrorReset {
		for id, m := range s.chains {
			if m.errors > 0 || m.disabled {
				s.log.Info("resetting chain error count", "chain", id, "errors", m.errors, "disabled", m.disabled)
			}
			m.errors = 0
			m.disabled = false
		}
		s.lastReset = s.now()
	}

	want := make(map[string]config.ChainConfig, len(desired))
	for _, c := range desired {
		want[c.ID] = c
	}
	removed := make(map[string]*managed)
	for id, m := range s.chains {
		if _, ok := want[id]; !ok {
			removed[id] = m
			delete(s.chains, id)
		}
	}

	type job struct {
		m *managed
		c config.ChainConfig
	}
	var (
		jobs    []job
		started []config.ChainConfig
	)
	for _, c := range desired {
		m, ok := s.chains[c.ID]
		if !ok {
			runner, err := s.factory(c)
			if err != nil {
				s.log.Error("failed to create listener", "chain", c.ID, "network", c.Network, "error", err)
				continue
			}
			m = &managed{runner: runner, cfg: c}
			s.chains[c.ID] = m
			started = append(started, c)
		} else if !reflect.DeepEqual(m.cfg, c) {
			started = append(started, c)
		}
		if !m.disabled {
			jobs = append(jobs, job{m: m, c: c})
		}
	}
	s.mu.Unlock()

	// Listener teardown and hooks may block on the network; mu stays free for Targets.
	for id, m := range removed {
		s.release(id, m)
	}
	for _, c := range started {
		if s.hooks.Started != nil {
			s.hooks.Started(c)
		}
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			s.converge(ctx, j.m, j.c)
			return nil
		})
	}
	_ = g.Wait()

	disabled := make(map[string]Runner)
	s.mu.Lock()
	for id, m := range s.chains {
		if !m.disabled && m.errors >= s.cfg.MaxErrors {
			s.log.Error("chain disabled after repeated failures", "chain", id, "errors", m.errors)
			disabled[id] = m.runner
			m.disabled = true
		}
	}
	s.mu.Unlock()
	for id, r := range disabled {
		if err := r.Close(); err != nil {
			s.log.Warn("failed to close listener", "chain", id, "error", err)
		}
	}
}

// converge applies configuration changes to one listener and brings it to Subscribed.
// Each chain is touched by one goroutine only, so m.runner and m.cfg are read here without mu.
func (s *Supervisor) converge(ctx context.Context, m *managed, c config.ChainConfig) {
	log := s.log.With("chain", c.ID)
	old := m.cfg
	m.cfg = c

	if !sameExceptUpdatable(old, c) {
		log.Info("listener options changed, recreating")
		if err := m.runner.Close(); err != nil {
			log.Warn("failed to close listener", "error", err)
		}
		runner, err := s.factory(c)
		if err != nil {
			s.step(log, m, "recreate", err)
			return
		}
		s.mu.Lock()
		m.runner = runner
		s.mu.Unlock()
	} else {
		if old.URL != c.URL {
			s.step(log, m, "update url", m.runner.UpdateURL(ctx, c.URL))
		}
		if old.Spec != c.Spec {
			s.step(log, m, "update spec", m.runner.UpdateSpec(ctx, chain.Spec(c.Spec)))
		}
		if old.ContractAddress != c.ContractAddress {
			s.step(log, m, "update contract address", m.runner.UpdateContractAddress(ctx, c.ContractAddress))
		}
	}

	switch m.runner.State() {
	case cursor.StateSubscribed:
		return
	case cursor.StateUninitialized:
		if !s.step(log, m, "init", m.runner.Init(ctx)) {
			return
		}
	}
	s.step(log, m, "subscribe", m.runner.Subscribe(ctx))
}

func (s *Supervisor) step(log *slog.Logger, m *managed, what string, err error) bool {
	if err == nil {
		return true
	}
	s.mu.Lock()
	m.errors++
	n := m.errors
	s.mu.Unlock()
	log.Error("listener "+what+" failed", "errors", n, "error", err)
	return false
}

// release closes a listener already removed from the map. Called without mu.
func (s *Supervisor) release(id string, m *managed) {
	s.log.Info("chain removed, stopping listener", "chain", id)
	if err := m.runner.Close(); err != nil {
		s.log.Warn("failed to close listener", "chain", id, "error", err)
	}
	if s.hooks.Stopped != nil {
		s.hooks.Stopped(id)
	}
}

// sameExceptUpdatable reports whether a and b differ at most in fields a listener can update in place.
func sameExceptUpdatable(a, b config.ChainConfig) bool {
	a.URL, b.URL = "", ""
	a.Spec, b.Spec = config.SpecConfig{}, config.SpecConfig{}
	a.ContractAddress, b.ContractAddress = "", ""
	return reflect.DeepEqual(a, b)
}

// Run reconciles against load every interval until ctx is done, then stops every listener.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration, load func() ([]config.ChainConfig, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		desired, err := load()
		if err != nil {
			s.log.Error("failed to load chains, keeping current set", "error", err)
		} else {
			s.Reconcile(ctx, desired)
		}

		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-ticker.C:
		}
	}
}

// Stop closes every listener.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	chains := s.chains
	s.chains = make(map[string]*managed)
	s.mu.Unlock()
	for id, m := range chains {
		s.release(id, m)
	}
}

// Targets lists the running listeners for health reporting, sorted by chain.
func (s *Supervisor) Targets() []health.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]health.Target, 0, len(s.chains))
	for _, m := range s.chains {
		out = append(out, m.runner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID() < out[j].ChainID() })
	return out
}

// Status reports the error count and disabled flag of a chain.
func (s *Supervisor) Status(chainID string) (errors int, disabled, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chains[chainID]
	if !ok {
		return 0, false, false
	}
	return m.errors, m.disabled, true
}
