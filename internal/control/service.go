// Package control wires configuration, storage and handlers into supervised listeners.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainevents/internal/balance"
	"github.com/vietddude/chainevents/internal/core/config"
	"github.com/vietddude/chainevents/internal/core/cursor"
	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/core/worker"
	"github.com/vietddude/chainevents/internal/indexing/handler"
	"github.com/vietddude/chainevents/internal/indexing/handler/kafka"
	"github.com/vietddude/chainevents/internal/indexing/health"
	"github.com/vietddude/chainevents/internal/indexing/listener"
	redisclient "github.com/vietddude/chainevents/internal/infra/redis"
	"github.com/vietddude/chainevents/internal/infra/rpc"
	"github.com/vietddude/chainevents/internal/infra/storage/memory"
	"github.com/vietddude/chainevents/internal/infra/storage/postgres"
)

// BalanceProvider is the provider name every chain registers with the balance cache.
const BalanceProvider = "node"

// Service owns the shared infrastructure and the listener supervisor.
type Service struct {
	cfg      *config.AppConfig
	cfgPath  string
	log      *slog.Logger
	registry Registry

	db         *postgres.DB
	events     *postgres.EventStore
	redis      *redisclient.Client
	watermarks cursor.Store
	resolver   listener.Resolver
	balances   *balance.Cache
	pruner     *worker.Pruner
	publisher  *kafka.Publisher
	handlers   *handler.Chain

	supervisor *Supervisor
	monitor    *health.Monitor

	// mu guards closers and cfg.Chains, which desired replaces on reload.
	mu      sync.Mutex
	closers map[string]func()
}

// NewService connects the configured stores and builds the handler chain.
// When cfgPath is set the chain list is reloaded from it on every reconcile.
func NewService(ctx context.Context, cfg *config.AppConfig, cfgPath string, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		cfgPath:  cfgPath,
		log:      log,
		registry: DefaultRegistry(),
		closers:  make(map[string]func()),
	}
	if err := s.initStorage(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initHandlers(); err != nil {
		s.Close()
		return nil, err
	}

	s.supervisor = NewSupervisor(
		func(c config.ChainConfig) (Runner, error) { return s.NewListener(c) },
		Hooks{Started: s.chainStarted, Stopped: s.chainStopped},
		SupervisorConfig{MaxErrors: cfg.Supervisor.MaxErrors, ErrorReset: cfg.Supervisor.ErrorReset},
		log,
	)
	s.monitor = health.NewMonitor(s.supervisor.Targets, 10*time.Second)
	return s, nil
}

func (s *Service) initStorage(ctx context.Context) error {
	if s.cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, s.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		s.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		s.events = postgres.NewEventStore(db, s.log)
		s.resolver = s.events
		s.log.Info("Using PostgreSQL event store")
	}

	var balanceStore balance.Store
	if s.cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(ctx, s.cfg.Redis)
		if err != nil {
			return err
		}
		s.redis = client
		s.watermarks = redisclient.NewWatermarkStore(client)
		balanceStore = redisclient.NewBalanceStore(client)
		if s.resolver == nil {
			s.resolver = WatermarkResolver(s.watermarks)
		}
		s.log.Info("Using Redis watermark and balance stores")
	} else {
		s.watermarks = memory.NewWatermarkStore()
		mem := memory.NewBalanceStore()
		balanceStore = mem
		s.pruner = worker.NewPruner("balance-cache", mem, s.cfg.Balance.PruneInterval, s.log)
		s.log.Info("Using memory watermark and balance stores")
	}
	if s.resolver == nil {
		s.log.Warn("No database or redis configured, offline recovery is disabled")
	}

	s.balances = balance.NewCache(balanceStore, balance.Config{
		TTL:     s.cfg.Balance.TTL,
		ZeroTTL: s.cfg.Balance.ZeroTTL,
	}, s.log)
	return nil
}

func (s *Service) initHandlers() error {
	regs := []handler.Registration{
		{Name: "logging", Handler: handler.NewLogging(s.log, s.cfg.Handlers.Verbose)},
	}
	if s.events != nil {
		regs = append(regs, handler.Registration{Name: "event-store", Handler: s.events})
	}
	regs = append(regs, handler.Registration{
		Name:    "balances",
		Handler: handler.NewBalanceAnnotator(s.balances, BalanceProvider),
	})

	if s.cfg.Kafka.Enabled() {
		writer, err := kafka.NewWriter(s.cfg.Kafka.Publisher())
		if err != nil {
			return err
		}
		serializer, err := kafka.SerializerFor(s.cfg.Kafka.Format)
		if err != nil {
			writer.Close()
			return err
		}
		s.publisher = kafka.NewPublisher(writer, serializer, s.log)
		regs = append(regs, handler.Registration{Name: "kafka", Handler: s.publisher})
	}

	s.handlers = handler.NewChain(s.log, config.Kinds(s.cfg.Handlers.ExcludedKinds), regs...)
	s.log.Info("Handler chain ready", "handlers", s.handlers.Names())
	return nil
}

// WatermarkResolver resumes after the persisted watermark. No watermark means no history.
func WatermarkResolver(store cursor.Store) listener.ResolverFunc {
	return func(ctx context.Context, chainID string) (*domain.BlockRange, error) {
		wm, err := store.Load(ctx, chainID)
		if errors.Is(err, cursor.ErrCursorNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		r := domain.OpenRange(wm + 1)
		return &r, nil
	}
}

// NewListener builds an uninitialized listener for one chain entry.
func (s *Service) NewListener(c config.ChainConfig) (*listener.Listener, error) {
	family, err := s.registry.Family(domain.Network(c.Network))
	if err != nil {
		return nil, err
	}
	return listener.New(listener.Config{
		Options:  c.Options(),
		Family:   family,
		Handlers: s.handlers,
		Resolver: s.resolver,
		Store:    s.watermarks,
		Logger:   s.log,
	})
}

// Chain returns the configured entry for chainID.
func (s *Service) Chain(chainID string) (config.ChainConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cfg.Chains {
		if c.ID == chainID {
			return c, nil
		}
	}
	return config.ChainConfig{}, fmt.Errorf("chain %s is not configured", chainID)
}

// Watermarks returns the watermark store.
func (s *Service) Watermarks() cursor.Store { return s.watermarks }

// Events returns the event store, or nil without a database.
func (s *Service) Events() *postgres.EventStore { return s.events }

// Balances returns the balance cache.
func (s *Service) Balances() *balance.Cache { return s.balances }

// Supervisor returns the listener supervisor.
func (s *Service) Supervisor() *Supervisor { return s.supervisor }

func (s *Service) chainStarted(c config.ChainConfig) {
	if s.publisher != nil {
		s.publisher.ExcludeKinds(c.ID, config.Kinds(c.ExcludedKinds)...)
	}
	s.RegisterBalanceProvider(context.Background(), c)
}

func (s *Service) chainStopped(chainID string) {
	if s.publisher != nil {
		s.publisher.ExcludeKinds(chainID)
	}
	s.balances.Unregister(chainID)
	s.closeProvider(chainID)
}

// RegisterBalanceProvider connects the balance provider of c's network, replacing any previous one.
func (s *Service) RegisterBalanceProvider(ctx context.Context, c config.ChainConfig) {
	s.closeProvider(c.ID)

	var closer func()
	switch domain.Network(c.Network) {
	case domain.NetworkCompound, domain.NetworkERC20:
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := ethclient.DialContext(dialCtx, c.URL)
		if err != nil {
			s.log.Warn("balance provider unavailable", "chain", c.ID, "error", err)
			return
		}
		s.balances.Register(c.ID, BalanceProvider, balance.NewEVMProvider(client))
		closer = client.Close
	case domain.NetworkCosmos:
		client := rpc.NewHTTPClient(rpc.ClientConfig{Chain: c.ID, Name: "bank", BaseURL: c.URL, RPS: c.RPS})
		s.balances.Register(c.ID, BalanceProvider, balance.NewCosmosBankProvider(client, c.Spec.Denom))
		closer = client.Close
	default:
		return
	}

	s.mu.Lock()
	s.closers[c.ID] = closer
	s.mu.Unlock()
}

func (s *Service) closeProvider(chainID string) {
	s.mu.Lock()
	closer := s.closers[chainID]
	delete(s.closers, chainID)
	s.mu.Unlock()
	if closer != nil {
		closer()
	}
}

// desired returns this worker's share of the configured chains, reloading the file when set.
func (s *Service) desired() ([]config.ChainConfig, error) {
	if s.cfgPath != "" {
		cfg, err := config.Load(s.cfgPath)
		if err != nil {
			return nil, err
		}
		cfg.Supervisor.WorkerIndex = s.cfg.Supervisor.WorkerIndex
		cfg.Supervisor.WorkerCount = s.cfg.Supervisor.WorkerCount
		s.mu.Lock()
		s.cfg.Chains = cfg.Chains
		s.mu.Unlock()
		return cfg.Shard(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Shard(), nil
}

// Run serves health endpoints and supervises listeners until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	httpServer := health.NewServer(s.monitor, s.cfg.Server.Port)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Stop(shutdownCtx)
	})

	if s.cfg.Server.GRPCPort > 0 {
		grpcServer := health.NewGRPCServer(s.monitor, s.cfg.Server.GRPCPort, 10*time.Second, s.log)
		g.Go(func() error { return grpcServer.Start(ctx) })
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.Stop()
			return nil
		})
	}

	if s.db != nil {
		g.Go(func() error {
			s.db.ReportPoolUsage(ctx, 15*time.Second)
			return nil
		})
	}
	if s.pruner != nil {
		g.Go(func() error {
			s.pruner.Start(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return s.supervisor.Run(ctx, s.cfg.Supervisor.Interval, s.desired)
	})

	s.log.Info("Service started", "port", s.cfg.Server.Port, "grpc_port", s.cfg.Server.GRPCPort)
	return g.Wait()
}

// Close releases every connection the service opened.
func (s *Service) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.closers))
	for id := range s.closers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.closeProvider(id)
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.log.Warn("Failed to close kafka writer", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}
}
