// Package main provides the ledgerd daemon - the crypto-asset accounting
// service that owns the ledger, reconciles backend-reported transactions
// into it, and broadcasts outbound sends.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/klingon-exchange/ledgerd/internal/config"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
	"github.com/klingon-exchange/ledgerd/internal/service"
	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// options holds the top-level flags shared by every subcommand, plus the
// subcommands themselves as go-flags "command" fields.
type options struct {
	ConfigPath string `short:"c" long:"config" description:"path to the YAML configuration file" default:"ledgerd.yaml"`
	LogLevel   string `long:"log-level" description:"log level (debug, info, warn, error)" default:"info"`
	Version    bool   `short:"v" long:"version" description:"show version and exit"`

	InitDB        initDBCommand        `command:"initialize-database" description:"create the ledger schema and exit"`
	HelperService helperServiceCommand `command:"helper-service" description:"run the daemon loop"`
	ScanReceived  scanReceivedCommand  `command:"scan-received" description:"run a one-shot receive scan for one coin and exit"`
}

type initDBCommand struct{}

type helperServiceCommand struct{}

type scanReceivedCommand struct {
	Args struct {
		Coin string `positional-arg-name:"coin"`
	} `positional-args:"yes" required:"yes"`
}

var opts options

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log := logging.New(&logging.Config{Level: opts.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if opts.Version {
		log.Infof("ledgerd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	if parser.Active == nil {
		log.Fatal("no subcommand given; see --help")
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	log.Info("config loaded", "path", opts.ConfigPath)

	var exitCode int
	switch parser.Active.Name {
	case "initialize-database":
		exitCode = runInitDB(log, cfg)
	case "helper-service":
		exitCode = runHelperService(log, cfg)
	case "scan-received":
		exitCode = runScanReceived(log, cfg, opts.ScanReceived.Args.Coin)
	default:
		log.Fatal("unknown subcommand", "name", parser.Active.Name)
	}
	os.Exit(exitCode)
}

// runInitDB opens the store (which creates the schema as a side effect of
// New) and exits. The schema statements are idempotent, and helper-service
// and scan-received also open the store through ledger.New, so they apply
// the same schema on startup.
func runInitDB(log *logging.Logger, cfg *config.Config) int {
	store, err := ledger.New(&ledger.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return 1
	}
	defer store.Close()
	log.Info("database schema initialized")
	return 0
}

// runHelperService runs the long-lived daemon loop until SIGINT/SIGTERM, per
// the service package's supervised-worker lifecycle.
func runHelperService(log *logging.Logger, cfg *config.Config) int {
	store, err := ledger.New(&ledger.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		log.Fatal("failed to open ledger store", "error", err)
	}
	defer store.Close()

	svc, err := service.New(cfg, store)
	if err != nil {
		log.Fatal("failed to build service", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
		<-sigCh
		log.Warn("second shutdown signal received, exiting immediately")
		os.Exit(2)
	}()

	log.Info("ledgerd starting", "version", version, "coins", coinList(cfg))

	runErr := svc.Run(ctx)
	cancel()

	if runErr != nil {
		log.Error("service exited with error", "error", runErr)
		return 2
	}
	log.Info("goodbye")
	return 0
}

// runScanReceived runs a single coin's ReceiveScanner and exits, without
// starting the broadcaster, confirmation poller, or any notifier - a manual
// reconciliation tool for an operator who suspects a deposit was missed.
func runScanReceived(log *logging.Logger, cfg *config.Config, coin string) int {
	store, err := ledger.New(&ledger.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		log.Fatal("failed to open ledger store", "error", err)
	}
	defer store.Close()

	svc, err := service.New(cfg, store)
	if err != nil {
		log.Fatal("failed to build service", "error", err)
	}

	ctx := context.Background()
	if err := svc.Backends().ConnectAll(ctx); err != nil {
		log.Error("failed to connect backends", "error", err)
		return 1
	}
	defer svc.Backends().CloseAll()

	sc, ok := svc.Scanners()[coin]
	if !ok {
		log.Error("unknown coin", "coin", coin)
		return 1
	}
	if err := sc.Scan(ctx); err != nil {
		log.Error("scan failed", "coin", coin, "error", err)
		return 1
	}
	log.Info("scan complete", "coin", coin)
	return 0
}

func coinList(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Coins))
	for symbol := range cfg.Coins {
		out = append(out, symbol)
	}
	return out
}
