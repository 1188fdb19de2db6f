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

	"github.com/jensholdgaard/lotmarket/internal/admin"
	"github.com/jensholdgaard/lotmarket/internal/auction"
	"github.com/jensholdgaard/lotmarket/internal/clock"
	"github.com/jensholdgaard/lotmarket/internal/config"
	"github.com/jensholdgaard/lotmarket/internal/health"
	"github.com/jensholdgaard/lotmarket/internal/leader"
	"github.com/jensholdgaard/lotmarket/internal/raffle"
	"github.com/jensholdgaard/lotmarket/internal/server"
	"github.com/jensholdgaard/lotmarket/internal/store"
	"github.com/jensholdgaard/lotmarket/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/lotmarket/internal/store/memstore"
	_ "github.com/jensholdgaard/lotmarket/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	admins := admin.NewManager(repos.Admin, repos.Pages, logger)
	auctions := auction.NewEngine(repos.Auctions, repos.Ledger, repos.Pages, clk, logger)
	raffles := raffle.NewEngine(repos.Raffles, repos.Ledger, repos.Pages, clk, raffle.CryptoEntropy{}, logger)

	if err := bootstrap(ctx, admins, cfg.Market, logger); err != nil {
		return fmt.Errorf("bootstrapping marketplace: %w", err)
	}

	api := server.New(admins, auctions, raffles, repos.Funder, logger)

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler())
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler())
	mux.Handle("/v1/", api.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	// serve marks this replica ready. Only the leader accepts traffic so
	// a single replica mutates listing state at a time.
	serve := func(ctx context.Context) {
		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "marketd is serving", slog.String("version", version))

		<-ctx.Done()
		healthHandler.SetReady(false)
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, leaderConfig(cfg.LeaderElection), logger, serve, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		serve(ctx)
		logger.Info("shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// bootstrap installs the global config on first start. Reinstalling is
// not possible; an already-initialized store is left untouched.
func bootstrap(ctx context.Context, admins *admin.Manager, mc config.MarketConfig, logger *slog.Logger) error {
	if _, err := admins.Config(ctx); err == nil {
		return nil
	} else if !errors.Is(err, admin.ErrNotInitialized) {
		return err
	}

	authority, err := mc.AuthorityID()
	if err != nil {
		return err
	}
	treasury, err := mc.TreasuryID()
	if err != nil {
		return err
	}
	if _, err := admins.Init(ctx, authority, mc.FeeRateBPS, treasury, mc.TestMode); err != nil {
		return err
	}
	logger.InfoContext(ctx, "marketplace initialized",
		slog.String("authority", authority.String()),
		slog.Bool("test_mode", mc.TestMode),
	)
	return nil
}

func leaderConfig(c config.LeaderElectionConfig) leader.Config {
	return leader.Config{
		Enabled:        c.Enabled,
		LeaseName:      c.LeaseName,
		LeaseNamespace: c.LeaseNamespace,
		LeaseDuration:  c.LeaseDuration,
		RenewDeadline:  c.RenewDeadline,
		RetryPeriod:    c.RetryPeriod,
	}
}
