// Command ledger-audit checks every driver account against the trips and
// payments that produced it. It exits with status 2 when any account
// drifts.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"fleetledger/internal/backend"
	"fleetledger/internal/cli"
	applog "fleetledger/internal/log"
	"fleetledger/internal/services"
)

func main() {
	driverID := flag.String("driver", "", "audit a single driver id")
	asJSON := flag.Bool("json", false, "print the reports as JSON")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentAudit)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	store, err := backend.NewFactory(logger.Logger).CreateStore(ctx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to open ledger store", err)
	}
	defer store.Cleanup()

	// Reconcile never needs rates or events.
	trips := services.NewTripService(store.Store, nil, nil, nil)
	reports, err := trips.Reconcile(ctx, *driverID)
	if err != nil {
		cli.Fatal(logger, "Reconcile failed", err)
	}

	drifted := 0
	for _, r := range reports {
		if r.OK() {
			logger.Debug("Driver ledger consistent", "driver_id", r.DriverID, "completed_trips", r.CompletedTrips)
			continue
		}
		drifted++
		logger.Warn("Driver ledger drift",
			"driver_id", r.DriverID,
			"expected_owed", r.ExpectedOwed.String(),
			"actual_owed", r.ActualOwed.String(),
			"drift", r.Drift.String(),
			"credit_drift", r.CreditDrift.String(),
			"problems", r.Problems)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			cli.Fatal(logger, "Failed to write reports", err)
		}
	}

	logger.Info("Audit finished", "drivers", len(reports), "drifted", drifted)
	if drifted > 0 {
		store.Cleanup()
		os.Exit(2)
	}
}
