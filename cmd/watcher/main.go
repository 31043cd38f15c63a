package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/derivwatch/internal/api"
	"github.com/rickgao/derivwatch/internal/bot"
	"github.com/rickgao/derivwatch/internal/config"
	"github.com/rickgao/derivwatch/internal/coordinator"
	"github.com/rickgao/derivwatch/internal/detector"
	"github.com/rickgao/derivwatch/internal/dispatch"
	"github.com/rickgao/derivwatch/internal/feed"
	"github.com/rickgao/derivwatch/internal/fetcher"
	"github.com/rickgao/derivwatch/internal/market"
	"github.com/rickgao/derivwatch/internal/metrics"
	"github.com/rickgao/derivwatch/internal/server"
	"github.com/rickgao/derivwatch/internal/store"
	"github.com/rickgao/derivwatch/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/watcher.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	os.Exit(run(*configPath))
}

func run(configPath string) int {
	// Load configuration
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		slog.Error("failed to load config", "config", configPath, "err", err)
		return 1
	}

	// Set up structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting watcher",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
		"instruments", len(cfg.Instruments),
		"interval", cfg.Poll.Interval,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create API client
	apiClient, err := newAPIClient(cfg.API, logger)
	if err != nil {
		logger.Error("failed to create api client", "err", err)
		return 1
	}

	// Check CoinGlass and load the instrument catalog
	logger.Info("checking coinglass")
	catalog := market.NewCatalog(market.DefaultConfig(), apiClient, cfg.Instruments, logger)
	if err := catalog.Start(ctx); err != nil {
		logger.Error("coinglass unreachable", "err", err)
		return 1
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		catalog.Stop(stopCtx)
	}()

	// Messaging channels
	channels, tgClient, closeChannels, err := newChannels(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up delivery channels", "err", err)
		return 1
	}
	defer closeChannels()

	dests := dispatch.DestinationsFromConfig(cfg.Destinations)
	dispatcher, err := dispatch.New(dispatch.ConfigFromConfig(cfg.Dispatch), channels, dests, logger)
	if err != nil {
		logger.Error("failed to create dispatcher", "err", err)
		return 1
	}

	// Persistence
	logger.Info("opening store", "backend", cfg.Store.Backend)
	backend, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "err", err)
		return 1
	}
	defer backend.Close()

	// Pipeline
	m := metrics.New()
	hub := feed.NewHub(feed.DefaultConfig(), logger)
	defer hub.Close()

	rules := detector.RulesFromConfig(cfg.Rules)
	fetch := fetcher.New(fetcher.Config{
		Concurrency: cfg.Fetcher.Concurrency,
		Timeout:     cfg.Fetcher.Timeout,
		Fields:      cfg.MetricFields,
		Optional:    unruledMetrics(cfg),
	}, apiClient, logger)

	coord := coordinator.New(
		coordinator.ConfigFromConfig(cfg),
		fetch,
		detector.New(rules),
		dispatcher,
		logger,
		coordinator.WithBackend(backend),
		coordinator.WithMetrics(m),
		coordinator.WithPublisher(hub),
	)

	// HTTP server
	var srv *server.Server
	if !cfg.Server.Disabled {
		srv = server.New(server.Config{
			Port:        cfg.Server.Port,
			MetricsPath: cfg.Server.MetricsPath,
		}, coord, backend, server.Handlers{
			Metrics: m.Handler(),
			Feed:    hub,
			Catalog: catalog,
		}, logger)
		if err := srv.Start(); err != nil {
			logger.Error("failed to start http server", "err", err)
			return 1
		}
	}

	// Telegram commands
	botDone := make(chan struct{})
	if cfg.Bot.Enabled {
		if tgClient == nil {
			tgClient = newTelegramClient(cfg.Telegram, logger)
		}
		b := bot.New(bot.Config{
			PollTimeout:  cfg.Bot.PollTimeout,
			AllowedChats: allowedChats(cfg),
		}, tgClient, coord, rules, logger)
		go func() {
			defer close(botDone)
			if err := b.Run(ctx); err != nil {
				logger.Error("telegram command listener failed", "err", err)
			}
		}()
	} else {
		close(botDone)
	}

	logger.Info("watcher running",
		"instance_id", cfg.Instance.ID,
		"destinations", len(dests),
		"backend", backend.Name(),
	)

	summary, err := coord.Run(ctx)
	exitCode := 0
	if err != nil {
		logger.Error("coordinator failed", "err", err)
		exitCode = 1
		cancel()
	}

	logger.Info("shutting down...")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "err", err)
		}
		shutdownCancel()
	}

	select {
	case <-botDone:
	case <-time.After(5 * time.Second):
		logger.Warn("telegram command listener did not stop in time")
	}

	logger.Info("watcher stopped", summary.LogAttrs()...)
	return exitCode
}

// newAPIClient creates the CoinGlass client, routed through the proxy when set.
func newAPIClient(cfg config.APIConfig, logger *slog.Logger) (*api.Client, error) {
	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.Timeout),
		api.WithRetries(cfg.Retries(), cfg.RetryBackoff),
		api.WithUserAgent(version.UserAgent()),
	}
	if cfg.ProxyURL != "" {
		transport, err := api.NewProxyTransport(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithHTTPClient(&http.Client{Timeout: cfg.Timeout, Transport: transport}))
	}
	return api.NewClient(cfg.BaseURL, cfg.APIKey, opts...), nil
}
