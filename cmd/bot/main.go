// Command bot runs the game operator: it discovers the entities the
// configured identity controls, hosts one reconciliation actor per entity,
// and submits their actions as gas-sponsored meta-transactions.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/actor"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/config"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/events"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/forwarder"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/indexer"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/log"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/manager"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/metrics"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/policy/battle"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/policy/ziggurat"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Bot exited with error")
	}
	logger.Info().Msg("Bot stopped")
}

func run(ctx context.Context, cfg config.Config, logger log.Logger) error {
	chainClient, err := chain.Dial(ctx, cfg.Chain, logger.Logger)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}
	logger.Info().Str("chain_id", chainClient.ChainID().String()).Msg("Chain connected")

	index, err := indexer.NewClient(cfg.Indexer, logger.Logger)
	if err != nil {
		return fmt.Errorf("build indexer client: %w", err)
	}

	fwd, err := forwarder.New(cfg.Forwarder, chainClient, chainClient.ChainID(), metrics.NewForwarderMetrics(), logger.Logger)
	if err != nil {
		return fmt.Errorf("build forwarder: %w", err)
	}
	logger.Info().Str("signer", fwd.From().Hex()).Msg("Forwarder ready")

	aggregator := events.New(cfg.Aggregator, chainClient, metrics.NewAggregatorMetrics(), logger.Logger)
	aggregator.Start(ctx)
	defer aggregator.Stop()

	scheduler := actor.NewScheduler(logger.Logger)
	runtime := actor.NewRuntime(
		cfg.Actor,
		actor.NewMemoryStateStore(),
		scheduler,
		aggregator,
		metrics.NewActorMetrics(),
		logger.Logger,
	)
	runtime.RegisterPolicy(battle.New(cfg.Battle, chainClient, index, fwd, logger.Logger))
	runtime.RegisterPolicy(ziggurat.New(cfg.Ziggurat, chainClient, fwd, logger.Logger))
	runtime.Start(ctx)
	defer runtime.Stop()

	mgr, err := manager.New(cfg.Manager, index, chainClient, runtime, metrics.NewManagerMetrics(), logger.Logger)
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}
	mgr.Start(ctx)
	defer mgr.Stop()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsLog := logger.Component("metrics-server")
		metricsSrv = serveMetrics(cfg.MetricsAddr, metricsLog)
		defer shutdownMetrics(metricsSrv, metricsLog)
	}

	go trackUptime(ctx)

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")
	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server, logger zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Metrics server shutdown failed")
	}
}

func trackUptime(ctx context.Context) {
	started := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.Uptime.Set(time.Since(started).Seconds())
		}
	}
}
