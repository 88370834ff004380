package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossvault/bridge"
	"crossvault/config"
	"crossvault/gateway"
	"crossvault/observability/logging"
	"crossvault/oracle"
	"crossvault/state"
	"crossvault/storage"
	"crossvault/vault"
)

const envVar = "CROSSVAULT_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := os.Getenv(envVar)
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("vaultd", env, logging.Options{FilePath: cfg.LogFilePath})

	if err := run(cfg, logger); err != nil {
		logger.Error("vaultd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := vault.NewStore(state.NewManager(db))

	authority, err := cfg.AuthorityAddress()
	if err != nil {
		return err
	}
	registry := vault.NewRegistry(authority)
	if err := seedRegistry(cfg, registry, store, logger); err != nil {
		return err
	}

	local, ok := registry.Get(cfg.LocalChain)
	if !ok {
		return fmt.Errorf("local chain %q is not in the chain registry", cfg.LocalChain)
	}

	engine := vault.NewEngine(cfg.LocalChain, registry, cfg.RiskParameters(), cfg.PoolParameters())
	engine.SetState(store)

	priceSink := oracle.NewManualOracle()
	engine.SetPriceSink(priceSink)
	if cfg.OraclePriced() {
		aggregator := oracle.NewAggregator([]string{"manual"}, cfg.RiskParameters().MaxQuoteAge)
		aggregator.Register("manual", priceSink)
		engine.SetPriceOracle(aggregator)
		logger.Info("oracle pricing enabled")
	}

	minFee, err := cfg.MinFee()
	if err != nil {
		return err
	}
	transport := bridge.NewHTTPTransport(cfg.SharedSecret, minFee)
	broadcaster := bridge.NewBroadcaster(cfg.LocalChain, local.Vault, registry, transport, minFee)
	broadcaster.SetLogger(logger)
	engine.SetOutbound(broadcaster)

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           gateway.NewServer(engine, cfg.SharedSecret, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vault gateway listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("chain", cfg.LocalChain),
			slog.Int("peers", len(registry.Peers(cfg.LocalChain))),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedRegistry restores persisted chain entries and folds in any new chains
// from the configuration, persisting the merged set.
func seedRegistry(cfg *config.Config, registry *vault.Registry, store *vault.Store, logger *slog.Logger) error {
	persisted, err := store.LoadChains()
	if err != nil {
		return fmt.Errorf("load chain registry: %w", err)
	}
	registry.Restore(persisted)

	configured, err := cfg.ChainEntries()
	if err != nil {
		return err
	}
	authority, err := cfg.AuthorityAddress()
	if err != nil {
		return err
	}
	added := 0
	for _, chain := range configured {
		if registry.Has(chain.Tag) {
			continue
		}
		if err := registry.Register(authority, chain); err != nil {
			return fmt.Errorf("register chain %s: %w", chain.Tag, err)
		}
		added++
	}
	if added > 0 || len(persisted) == 0 {
		if err := store.SaveChains(registry.Chains()); err != nil {
			return fmt.Errorf("persist chain registry: %w", err)
		}
	}
	logger.Info("chain registry ready",
		slog.Int("chains", len(registry.Chains())),
		slog.Int("added", added),
	)
	return nil
}
