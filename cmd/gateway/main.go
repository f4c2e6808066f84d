// Command gateway runs the x402 monetizing proxy: a catalog of priced
// third-party API routes behind an HTTP 402 paywall.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/chains"
	"github.com/tollgate/gateway/internal/circuitbreaker"
	"github.com/tollgate/gateway/internal/config"
	"github.com/tollgate/gateway/internal/credentials"
	"github.com/tollgate/gateway/internal/dbpool"
	"github.com/tollgate/gateway/internal/facilitator"
	"github.com/tollgate/gateway/internal/httpserver"
	"github.com/tollgate/gateway/internal/httputil"
	"github.com/tollgate/gateway/internal/ledger"
	"github.com/tollgate/gateway/internal/lifecycle"
	"github.com/tollgate/gateway/internal/logger"
	"github.com/tollgate/gateway/internal/metrics"
	"github.com/tollgate/gateway/internal/onchain"
	"github.com/tollgate/gateway/internal/paywall"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	// Best effort: a missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "tollgate",
		Version:     httpserver.Version,
		Environment: cfg.Logging.Environment,
	})

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("gateway exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			log.Error().Err(err).Msg("resource shutdown failed")
		}
	}()

	collector := metrics.New(nil)

	pool, err := dbpool.NewSharedPool(cfg.Database.URL, cfg.Database.Pool)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	resources.Register("database", pool)

	store, err := ledger.NewStore(pool.DB())
	if err != nil {
		return fmt.Errorf("ledger schema: %w", err)
	}
	store.SetMetrics(collector)

	ledgerLog := ledger.NewLogger(store, log)
	ledgerLog.SetMetrics(collector)
	resources.Register("ledger-logger", ledgerLog)

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, log)

	eth, err := ethclient.Dial(cfg.Payments.FastRPCURL)
	if err != nil {
		return fmt.Errorf("fast rpc: %w", err)
	}
	resources.RegisterFunc("fast-rpc", func() error {
		eth.Close()
		return nil
	})

	fastChain := chains.WithFastStablecoin(cfg.Payments.FastStablecoinContract)
	verifier := onchain.NewVerifier(
		&breakerFetcher{client: eth, breaker: breaker},
		store,
		fastChain.Stablecoin.Contract,
		fastChain.CAIP2,
		cfg.Payments.VerifyTimeout.Duration,
		log,
	)

	registry, err := services.Load(cfg.Services.CatalogPath)
	if err != nil {
		return fmt.Errorf("service catalog: %w", err)
	}

	creds := credentials.NewPool()
	for tag, secrets := range cfg.Providers {
		creds.Register(tag, secrets)
	}
	log.Info().
		Int("services", len(registry.All())).
		Int("providers", len(cfg.Providers)).
		Msg("catalog loaded")

	advertiser := paywall.NewAdvertiser(
		registry,
		cfg.Server.PublicBaseURL,
		cfg.Payments.FastStablecoinContract,
		cfg.Payments.EVMRecipient,
		cfg.Payments.SolanaRecipient,
		cfg.Payments.SolanaFeePayer,
		log,
	)

	remote := facilitator.NewRemote(
		cfg.Payments.FacilitatorURL,
		httputil.NewClient(cfg.Payments.FacilitatorTimeout.Duration),
		breaker,
		cfg.Payments.FacilitatorTimeout.Duration,
		log,
	)

	srv := httpserver.New(httpserver.Deps{
		Config:     cfg,
		Registry:   registry,
		Advertiser: advertiser,
		Direct:     paywall.NewDirect(verifier, registry, fastChain, cfg.Payments.EVMRecipient, ledgerLog, collector),
		Gate:       paywall.NewFacilitatorGate(remote, registry, advertiser, ledgerLog, collector),
		DevBypass:  paywall.NewDevBypass(cfg.Dev.BypassEnabled, cfg.Dev.BypassSecret),
		// Route deadlines bound upstream calls; the client itself stays
		// timeout-free so slow video routes are not cut short.
		Dispatcher: upstream.NewDispatcher(registry, creds, httputil.NewClient(0), breaker, collector),
		LocalFac:   facilitator.NewLocal(verifier, fastChain.CAIP2, fastChain.Stablecoin.Symbol, "1"),
		Store:      store,
		Metrics:    collector,
		Logger:     log,
	})

	stopRetention := startRetention(store, collector, cfg.Database.RetentionDays, log)
	resources.RegisterFunc("retention", func() error {
		stopRetention()
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// startRetention prunes aged request records once a day. Returns a stop
// function.
func startRetention(store *ledger.Store, collector *metrics.Metrics, days int, log zerolog.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deleted, err := store.CleanupOldRequests(context.Background(), days)
				if err != nil {
					log.Error().Err(err).Msg("ledger.cleanup_failed")
					continue
				}
				collector.ObserveCleanup(deleted)
				log.Info().Int64("deleted", deleted).Int("retention_days", days).Msg("ledger.cleanup_done")
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// breakerFetcher guards fast-rail receipt fetches with the RPC circuit
// breaker.
type breakerFetcher struct {
	client  *ethclient.Client
	breaker *circuitbreaker.Manager
}

func (f *breakerFetcher) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	result, err := f.breaker.Execute(circuitbreaker.ServiceFastRPC, func() (interface{}, error) {
		return f.client.TransactionReceipt(ctx, txHash)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Receipt), nil
}
