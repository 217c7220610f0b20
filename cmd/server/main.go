// Package main runs the buy watcher: it follows the tracked token's main pair,
// classifies buys from the pair's transaction logs and streams them to overlays.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/classifier"
	"buywatch/internal/config"
	"buywatch/internal/dedup"
	"buywatch/internal/httpapi"
	"buywatch/internal/hub"
	"buywatch/internal/ingestion"
	"buywatch/internal/marketdata"
	"buywatch/internal/observability"
	"buywatch/internal/relay"
	"buywatch/internal/solana"
	"buywatch/internal/storage"
	"buywatch/internal/storage/memory"
	"buywatch/internal/storage/migrations"
	pgstore "buywatch/internal/storage/postgres"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional dotenv file; process environment takes precedence")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting", zap.String("build", cfg.BuildTag), zap.String("mint", cfg.Mint))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cleanup, err := createStore(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Fatal("failed to create store", zap.Error(err))
	}
	defer cleanup()

	h := hub.New(hub.Options{Build: cfg.BuildTag, Logger: logger.Named("hub")})

	if cfg.RedisURL != "" {
		sink, err := relay.NewRedisSink(ctx, cfg.RedisURL, cfg.RedisChannel, logger.Named("relay"))
		if err != nil {
			logger.Fatal("failed to connect redis relay", zap.Error(err))
		}
		defer sink.Close()
		h.AddSink(sink)
		go sink.Run(ctx)
		logger.Info("relaying events to redis", zap.String("channel", cfg.RedisChannel))
	}

	cache := marketdata.NewCache(marketdata.Config{
		Mint:              cfg.Mint,
		Fetcher:           marketdata.NewClient(cfg.DexScreenerURL),
		Publisher:         h,
		Store:             store,
		Logger:            logger.Named("dex"),
		RefreshInterval:   cfg.RefreshInterval,
		KeepAliveInterval: cfg.KeepAliveInterval,
		PriceStaleAfter:   cfg.PriceStaleAfter,
	})

	filter, err := dedup.NewFilter(cfg.SeenCapacity)
	if err != nil {
		logger.Fatal("failed to create signature filter", zap.Error(err))
	}

	cls := classifier.New(classifier.Options{
		RPC:    solana.NewHTTPClient(cfg.RPCHTTP),
		Prices: cache,
		Mint:   cfg.Mint,
		Logger: logger.Named("classifier"),
	})

	wsConfig := solana.DefaultWSConfig()
	wsConfig.Logger = logger.Named("ws")
	manager := ingestion.NewManager(ingestion.ManagerOptions{
		Dial: func(ctx context.Context) (solana.LogStream, error) {
			return solana.DialLogs(ctx, cfg.RPCWS, &wsConfig)
		},
		Filter:         filter,
		Classifier:     cls,
		Publisher:      h,
		Logger:         logger.Named("ingestion"),
		ReconnectDelay: cfg.ReconnectDelay,
		Concurrency:    cfg.ClassifyConcurrency,
	})
	cache.SetResubscriber(manager)

	if err := cache.Restore(ctx); err != nil {
		logger.Warn("failed to restore market state", zap.Error(err))
	}
	if err := cache.Refresh(ctx); err != nil {
		logger.Warn("initial market data refresh failed", zap.Error(err))
	}
	// A pair found later by the refresh loop triggers the first connect instead.
	manager.Connect(cache.Snapshot().PairAddress, false)
	go cache.Run(ctx)

	srv := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Port),
		Handler: httpapi.NewRouter(httpapi.Options{
			Hub:       h,
			Market:    cache,
			Stream:    manager,
			Build:     cfg.BuildTag,
			PublicDir: cfg.PublicDir,
			Metrics:   observability.Handler(),
			Logger:    logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("overlay", fmt.Sprintf("http://localhost:%d/overlay", cfg.Port)),
			zap.String("events", fmt.Sprintf("http://localhost:%d/events", cfg.Port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("http server failed", zap.Error(err))
	}

	go func() {
		sig := <-sigCh
		logger.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
		os.Exit(1)
	}()

	cancel()
	// Streaming handlers only return once their subscriber is removed.
	h.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	manager.Close()

	logger.Info("shutdown complete")
}

// createStore selects PostgreSQL when a DSN is configured, memory otherwise.
func createStore(ctx context.Context, dsn string, logger *zap.Logger) (storage.MarketStateStore, func(), error) {
	if dsn == "" {
		logger.Info("using in-memory market state store")
		return memory.NewMarketStateStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("using postgres market state store")
	return pgstore.NewMarketStateStore(pool), pool.Close, nil
}
