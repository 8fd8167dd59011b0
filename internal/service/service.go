// Package service wires every coin's Broadcaster, ConfirmationPoller,
// ReceiveScanner and IncomingNotifier together into the long-running daemon
// loop: it owns their lifecycle, ticks the scheduled workers, and supervises
// the set of goroutines that must keep running for as long as the service
// does.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/klingon-exchange/ledgerd/internal/backend"
	"github.com/klingon-exchange/ledgerd/internal/broadcaster"
	"github.com/klingon-exchange/ledgerd/internal/conflict"
	"github.com/klingon-exchange/ledgerd/internal/config"
	"github.com/klingon-exchange/ledgerd/internal/confirmation"
	"github.com/klingon-exchange/ledgerd/internal/events"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
	"github.com/klingon-exchange/ledgerd/internal/notify"
	"github.com/klingon-exchange/ledgerd/internal/scanner"
	"github.com/klingon-exchange/ledgerd/internal/status"
	"github.com/klingon-exchange/ledgerd/internal/updater"
	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// Service owns one Broadcaster/ConfirmationPoller/ReceiveScanner/
// IncomingNotifier per configured coin, plus the shared conflict resolver,
// event registry and backend registry they all run against.
type Service struct {
	cfg      *config.Config
	store    *ledger.Store
	resolver *conflict.Resolver
	registry *events.Registry
	backends *backend.Registry
	status   *status.Server
	log      *logging.Logger

	updaters      map[string]*updater.Updater
	broadcasters  map[string]*broadcaster.Broadcaster
	pollers       map[string]*confirmation.Poller
	scanners      map[string]*scanner.Scanner
	notifiers     map[string]notify.Notifier

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu          sync.Mutex
	criticalErr error
}

// New builds a Service from cfg and an already-initialized store. It does
// not connect any backend or start any worker; call Run for that.
func New(cfg *config.Config, store *ledger.Store) (*Service, error) {
	registry, err := buildEventRegistry(cfg.EventSinks)
	if err != nil {
		return nil, err
	}

	resolver := conflict.New(store.DB(), &conflict.Config{MaxRetries: cfg.Service.TransactionRetries})

	s := &Service{
		cfg:          cfg,
		store:        store,
		resolver:     resolver,
		registry:     registry,
		backends:     backend.NewRegistry(),
		log:          logging.GetDefault().Component("service"),
		updaters:     make(map[string]*updater.Updater),
		broadcasters: make(map[string]*broadcaster.Broadcaster),
		pollers:      make(map[string]*confirmation.Poller),
		scanners:     make(map[string]*scanner.Scanner),
		notifiers:    make(map[string]notify.Notifier),
	}

	for symbol, coinCfg := range cfg.Coins {
		descriptor, ok := ledger.LookupCoin(symbol)
		if !ok {
			return nil, fmt.Errorf("service: unknown coin %q (no ledger.CoinDescriptor registered)", symbol)
		}

		b, err := backend.New(&coinCfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("service: build backend for %s: %w", symbol, err)
		}
		s.backends.Register(symbol, b)

		u := updater.New(store, resolver, registry, descriptor, coinCfg.ConfirmationCount)
		s.updaters[symbol] = u
		s.broadcasters[symbol] = broadcaster.New(store, resolver, b, symbol)
		s.pollers[symbol] = confirmation.New(store, b, u, symbol)
		s.scanners[symbol] = scanner.New(store, b, u, symbol)

		n, err := buildNotifier(symbol, cfg.Notifier, func(ctx context.Context, txid string) error {
			return u.HandleWalletNotify(ctx, b, txid)
		})
		if err != nil {
			return nil, fmt.Errorf("service: build notifier for %s: %w", symbol, err)
		}
		s.notifiers[symbol] = n
	}

	if cfg.Service.StatusAddr != "" {
		s.status = status.New(cfg.Service.StatusAddr, store, resolver, s.broadcasters)
	}

	return s, nil
}

// Resolver returns the shared conflict resolver, for a caller (e.g. a CLI
// subcommand) that needs to run a one-off managed operation outside Run.
func (s *Service) Resolver() *conflict.Resolver { return s.resolver }

// Backends returns the backend registry, for CLI subcommands that operate
// against a single coin's backend directly (e.g. a manual scan).
func (s *Service) Backends() *backend.Registry { return s.backends }

// Scanners returns the per-coin receive scanners, for a CLI subcommand that
// wants to trigger a scan without starting the whole service loop.
func (s *Service) Scanners() map[string]*scanner.Scanner { return s.scanners }

// Run connects every backend, reports any interrupted broadcasts left from
// a previous run, starts every notifier and the scheduled broadcaster/
// confirmation-poller cycle, then blocks until ctx is cancelled or a
// critical worker fails. It returns the failure that caused the shutdown,
// or nil for a clean cancellation.
func (s *Service) Run(ctx context.Context) error {
	if err := s.backends.ConnectAll(ctx); err != nil {
		return fmt.Errorf("service: connect backends: %w", err)
	}
	defer s.backends.CloseAll()

	s.reportInterrupted(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	if s.status != nil {
		if err := s.status.Start(runCtx); err != nil {
			s.log.Error("failed to start status server", "error", err)
		} else {
			defer s.status.Stop()
		}
	}

	for symbol, n := range s.notifiers {
		if err := n.Start(runCtx); err != nil {
			s.log.Error("failed to start notifier", "coin", symbol, "error", err)
			continue
		}
		s.wg.Add(1)
		go s.superviseNotifier(runCtx, symbol, n)
	}

	for symbol, sc := range s.scanners {
		s.wg.Add(1)
		go func(symbol string, sc *scanner.Scanner) {
			defer s.wg.Done()
			if err := sc.Scan(runCtx); err != nil {
				s.log.Error("receive scan failed", "coin", symbol, "error", err)
			}
		}(symbol, sc)
	}

	s.wg.Add(1)
	go s.runScheduler(runCtx)

	<-runCtx.Done()

	cancel()
	for symbol, n := range s.notifiers {
		if err := n.Stop(); err != nil {
			s.log.Error("failed to stop notifier", "coin", symbol, "error", err)
		}
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.criticalErr
}

// reportInterrupted logs every broadcast left open-but-not-closed by a
// previous run, for an operator to reconcile manually. It never auto-retries
// them.
func (s *Service) reportInterrupted(ctx context.Context) {
	for symbol, b := range s.broadcasters {
		interrupted, err := b.ListInterrupted(ctx)
		if err != nil {
			s.log.Error("failed to list interrupted broadcasts", "coin", symbol, "error", err)
			continue
		}
		for _, n := range interrupted {
			s.log.Error("interrupted broadcast requires manual reconciliation",
				"coin", symbol, "network_transaction", n.ID, "opened_at", n.OpenedAt)
		}

		unopened, err := b.ListUnopened(ctx)
		if err != nil {
			s.log.Error("failed to list unopened broadcasts", "coin", symbol, "error", err)
			continue
		}
		for _, n := range unopened {
			s.log.Warn("broadcast collected but never opened; scheduler will retry it",
				"coin", symbol, "network_transaction", n.ID)
		}
	}
}

// superviseNotifier watches n's failure channel. A transport that dies on
// its own while the service is still running is a critical-thread failure;
// one that reports nil (Stop was called) is not.
func (s *Service) superviseNotifier(ctx context.Context, symbol string, n notify.Notifier) {
	defer s.wg.Done()
	select {
	case <-ctx.Done():
		return
	case err := <-n.Err():
		if err != nil {
			s.fail(fmt.Sprintf("notifier-%s", symbol), err)
		}
	}
}

// runScheduler ticks the broadcaster and confirmation-poller cycles for
// every coin on their configured periods. A single cycle's error is logged,
// not fatal - the next tick retries naturally.
func (s *Service) runScheduler(ctx context.Context) {
	defer s.wg.Done()

	broadcastPeriod := s.cfg.Service.BroadcastPeriod
	if broadcastPeriod <= 0 {
		broadcastPeriod = time.Minute
	}
	confirmPeriod := s.cfg.Service.ConfirmationPollPeriod
	if confirmPeriod <= 0 {
		confirmPeriod = time.Minute
	}

	broadcastTicker := time.NewTicker(broadcastPeriod)
	defer broadcastTicker.Stop()
	confirmTicker := time.NewTicker(confirmPeriod)
	defer confirmTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-broadcastTicker.C:
			for symbol, b := range s.broadcasters {
				if err := b.Run(ctx); err != nil {
					s.log.Error("broadcaster cycle failed", "coin", symbol, "error", err)
				}
			}
		case <-confirmTicker.C:
			for symbol, p := range s.pollers {
				if err := p.Run(ctx); err != nil {
					s.log.Error("confirmation poll failed", "coin", symbol, "error", err)
				}
			}
		}
	}
}

// fail records err as the reason Run is about to return and cancels the
// run context, which unwinds every worker. Only the first failure is kept.
func (s *Service) fail(name string, err error) {
	s.mu.Lock()
	if s.criticalErr == nil {
		s.criticalErr = fmt.Errorf("service: critical thread %q exited: %w", name, err)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// buildEventRegistry constructs the outbound event fan-out registry from
// configuration. A "callback" sink has no config-expressible target; it is
// registered by an embedding caller directly against the returned registry
// (events.Registry.Register), so it is skipped here rather than treated as
// an error.
func buildEventRegistry(sinks []config.EventSinkConfig) (*events.Registry, error) {
	reg := events.NewRegistry()
	for i, sink := range sinks {
		var h events.Handler
		switch sink.Kind {
		case "http":
			h = events.NewHTTPHandler(sink.URL)
		case "script":
			h = events.NewScriptHandler(sink.Script, sink.LogOutput)
		case "callback":
			continue
		default:
			return nil, fmt.Errorf("service: unknown event sink kind %q", sink.Kind)
		}
		reg.Register(fmt.Sprintf("%s-%d", sink.Kind, i), h)
	}
	return reg, nil
}

// buildNotifier constructs the IncomingNotifier transport for one coin.
// NotifierConfig's path/address fields may contain a single "%s" verb,
// substituted with the coin symbol, so one notifier document can describe a
// distinct pipe path or port per coin; a literal with no verb is reused
// as-is, the common case for a single-coin deployment.
func buildNotifier(coin string, cfg config.NotifierConfig, handler notify.Handler) (notify.Notifier, error) {
	switch cfg.Kind {
	case "pipe":
		return notify.NewPipeNotifier(perCoin(cfg.PipePath, coin), 0, handler), nil
	case "http":
		return notify.NewHTTPNotifier(perCoin(cfg.HTTPAddr, coin), handler), nil
	case "websocket":
		return notify.NewWebsocketNotifier(perCoin(cfg.WebsocketURL, coin), handler), nil
	default:
		return nil, fmt.Errorf("service: unknown notifier kind %q", cfg.Kind)
	}
}

func perCoin(template, coin string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, coin)
	}
	return template
}
