package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetledger/internal/amqp"
	"fleetledger/internal/backend"
	"fleetledger/internal/cache"
	"fleetledger/internal/cli"
	"fleetledger/internal/currency"
	apphttp "fleetledger/internal/http"
	applog "fleetledger/internal/log"
	"fleetledger/internal/metrics"
	"fleetledger/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentStorage).Logger)
	store, err := factory.CreateStore(ctx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to open ledger store", err)
	}
	defer func() {
		if err := store.Cleanup(); err != nil {
			logger.Error("Failed to close ledger store", "error", err)
		}
	}()

	m := metrics.New()

	// Exchange rates: live provider when configured, static table last.
	fallback, err := currency.ParseStaticTable(cfg.RatesFallback)
	if err != nil {
		cli.Fatal(logger, "Invalid fallback rates", err)
	}
	var live currency.Source
	if cfg.RatesURL != "" {
		live = currency.NewHTTPSource(cfg.RatesURL, nil)
		logger.Info("Live exchange rates enabled", "url", cfg.RatesURL)
	} else {
		logger.Warn("No RATES_URL configured, previews use fallback rates and international trips need a manual rate")
	}
	resolver := currency.NewResolver(live, fallback, cfg.ResolverConfig(), m)

	caches := cache.NewManager()
	caches.Register("rates", resolver.Cache())
	caches.StartCleanup(cfg.RatesTTL)
	defer caches.Stop()

	// Events are optional; the ledger keeps working without a broker.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, trip events disabled", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
		}
	}

	trips := services.NewTripService(store.Store, resolver, publisher, m)

	pairs, err := cfg.Pairs()
	if err != nil {
		cli.Fatal(logger, "Invalid rate pairs", err)
	}
	refresher := services.NewRateRefresher(resolver, services.RateRefresherConfig{
		Interval: cfg.RatesRefreshInterval,
		Pairs:    pairs,
	})
	if live != nil {
		if err := refresher.Start(ctx); err != nil {
			cli.Fatal(logger, "Failed to start rate refresher", err)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, trips, apphttp.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            m,
		Logger:             logger,
		Ready:              store.Store.Ping,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting fleetledger server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"rate_limit_per_minute", cfg.RateLimitPerMinute)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := refresher.Stop(shutdownCtx); err != nil {
			logger.Warn("Rate refresher did not stop cleanly", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	start := time.Now()
	if err := g.Wait(); err != nil {
		cli.Fatal(logger, "Server error", err)
	}
	logger.Info("Server stopped gracefully", "uptime", time.Since(start).Round(time.Second))
}
