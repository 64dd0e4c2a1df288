package main

import (
	"context"
	"errors"

	"fleetledger/internal/amqp"
	"fleetledger/internal/backend"
	"fleetledger/internal/cli"
	applog "fleetledger/internal/log"
	"fleetledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting fleetledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		cli.Fatal(logger, "Worker needs a broker", errors.New("AMQP_URL is empty"))
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentExport).Logger)

	store, err := factory.CreateStore(ctx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to open ledger store", err)
	}
	defer func() {
		if err := store.Cleanup(); err != nil {
			logger.Error("Failed to close ledger store", "error", err)
		}
	}()

	exporter, err := factory.CreateExporter(ctx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize settlement exporter", err)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}
	defer amqpClient.Close()

	exportWorker := worker.NewExportWorker(store.Store, exporter)

	// Export anything completed while the worker was down.
	logger.Info("Performing startup settlement backfill...")
	if err := exportWorker.Backfill(ctx); err != nil {
		logger.Error("Startup backfill failed", "error", err)
	}

	logger.Info("Consuming trip events", "queue", cfg.AMQPQueue, "export", cfg.ExportBackend)
	err = amqpClient.ConsumeWithReconnect(ctx, exportWorker.HandleTripEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		return
	}
	logger.Info("Worker shutdown complete")
}
