// txbot drives scripted DEX and token-transfer activity from a set of
// funded wallets against an EVM chain. It runs either as an HTTP service or,
// when an operation flag is given, as a one-shot command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/batch"
	"github.com/gateway-fm/txbot/internal/catalog"
	"github.com/gateway-fm/txbot/internal/config"
	"github.com/gateway-fm/txbot/internal/gas"
	"github.com/gateway-fm/txbot/internal/metrics"
	"github.com/gateway-fm/txbot/internal/pipeline"
	"github.com/gateway-fm/txbot/internal/retry"
	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/runner"
	"github.com/gateway-fm/txbot/internal/sender"
	"github.com/gateway-fm/txbot/internal/storage"
	"github.com/gateway-fm/txbot/internal/transport"
	"github.com/gateway-fm/txbot/internal/txbuilder"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 15 * time.Second
)

func main() {
	cfg, cliCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, cliCfg, logger); err != nil {
		logger.Error("txbot failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, cliCfg *config.CLIConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initializing storage at %s: %w", cfg.DatabasePath, err)
	}
	defer store.Close()
	logger.Info("initialized storage", "path", cfg.DatabasePath)

	m := metrics.NewPrometheusMetrics(nil)
	hub := transport.NewHub(logger)

	rn, client, err := build(ctx, cfg, store, m, hub, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if cliCfg != nil {
		return runOnce(ctx, rn, cliCfg, logger)
	}
	return serve(ctx, cfg, rn, hub, logger)
}

// build wires the transaction stack from the node client up to the runner.
func build(ctx context.Context, cfg *config.Config, store storage.Storage, m *metrics.PrometheusMetrics, hub *transport.Hub, logger *slog.Logger) (*runner.Runner, *rpc.HTTPClient, error) {
	rpcCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	rpcCfg.Observer = m
	rpcCfg.Logger = logger
	client := rpc.NewHTTPClient(rpcCfg)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		id, err := client.GetChainID(startCtx)
		cancel()
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("resolving chain id from %s: %w", cfg.RPCURL, err)
		}
		chainID = id
	}

	wallets, err := account.LoadWallets(cfg.Wallets)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	for _, w := range wallets {
		logger.Info("loaded wallet", "label", w.Label, "address", w.Address.Hex())
	}

	rt := retry.New(retry.Config{
		MaxAttempts: cfg.RetryAttempts,
		Backoff:     cfg.RetryBackoff,
		Recorder:    m,
		Logger:      logger,
	})

	builder, err := txbuilder.New(txbuilder.Config{ChainID: chainID, Router: cfg.RouterAddress})
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	p := pipeline.New(pipeline.Config{
		Builder:        builder,
		Sender:         sender.New(sender.Config{Client: client, Retry: rt, Concurrency: cfg.Concurrency, Logger: logger}),
		Receipts:       client,
		Retry:          rt,
		Metrics:        m,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.ReceiptPollInterval,
		Logger:         logger,
	})

	// The orchestrator reports to the runner, which needs the catalog the
	// orchestrator is handed to.
	var rn *runner.Runner
	orch := batch.New(batch.Config{
		Executor:    p,
		Concurrency: cfg.Concurrency,
		Metrics:     m,
		OnResult: func(ctx context.Context, res pipeline.Result) {
			rn.Observe(ctx, res)
		},
		Logger: logger,
	})

	reg, err := catalog.NewRegistry(catalog.RegistryConfig{
		Tokens:        cfg.Tokens,
		NativeSymbol:  cfg.NativeSymbol,
		WrappedSymbol: cfg.WrappedSymbol,
		Router:        cfg.RouterAddress,
		Client:        client,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	logger.Info("token registry loaded", "symbols", reg.Symbols(), "router", reg.Router().Hex())

	cat, err := catalog.New(catalog.Config{
		Registry: reg,
		Oracle: gas.NewOracle(client, gas.Config{
			PremiumPercent: cfg.GasPremiumPercent,
			FallbackPrice:  cfg.FallbackGasPrice,
			Retry:          rt,
			Recorder:       m,
			Logger:         logger,
		}),
		Batches:  orch,
		Chain:    client,
		Keys:     runner.KeyStore(store),
		Accounts: account.NewManager(logger),
		Retry:    rt,
		Stipend:  cfg.FundingStipend,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	rn, err = runner.New(runner.Config{
		Operations: cat,
		Wallets:    wallets,
		Chain:      client,
		Store:      store,
		Publisher:  hub,
		BatchDelay: cfg.BatchDelay,
		SwapDelay:  cfg.SwapDelay,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.Info("txbot configured",
		"rpc", cfg.RPCURL,
		"chainId", chainID.String(),
		"wallets", len(wallets),
		"router", cfg.RouterAddress.Hex(),
		"gasPremiumPercent", cfg.GasPremiumPercent)
	return rn, client, nil
}

// runOnce executes a single operation from the command line. SIGINT or
// SIGTERM stops the run; wallets already in flight finish first.
func runOnce(ctx context.Context, rn *runner.Runner, cliCfg *config.CLIConfig, logger *slog.Logger) error {
	logger.Info("starting run", "operation", cliCfg.Request.Kind)
	result, err := rn.Run(ctx, cliCfg.Request)
	if err != nil {
		return err
	}

	logger.Info("run finished",
		"id", result.ID,
		"status", result.Status,
		"wallets", result.Wallets,
		"operations", result.Operations,
		"confirmed", result.Confirmed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"error", result.Error)
	if result.Error != "" && result.Confirmed == 0 {
		return errors.New(result.Error)
	}
	return nil
}

// serve runs the HTTP API until a signal arrives, then stops the active run
// and waits for it to finish.
func serve(ctx context.Context, cfg *config.Config, rn *runner.Runner, hub *transport.Hub, logger *slog.Logger) error {
	hub.Start()
	defer hub.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           transport.NewServer(rn, rn, hub, logger, cfg.CORSAllowedOrigins).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if rn.Stop() {
			logger.Info("stopping active run")
		}
		if err := rn.Wait(shutdownCtx); err != nil {
			logger.Warn("run did not finish before shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
