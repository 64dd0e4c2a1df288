// Package backend builds the storage and export implementations selected
// by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"fleetledger/internal/export"
	gexport "fleetledger/internal/export/google"
	exportmem "fleetledger/internal/export/memory"
	"fleetledger/internal/storage"
	"fleetledger/internal/storage/memory"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// StoreResult contains the store and its cleanup function
type StoreResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
}

// Factory creates stores and exporters based on configuration
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

// CreateStore opens the configured ledger store.
func (f *Factory) CreateStore(ctx context.Context, config Config) (*StoreResult, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		if err := repo.Ping(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("ping SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return &StoreResult{Store: repo, Cleanup: repo.Close}, nil
	case MemoryBackend:
		store := memory.New()
		f.logger.Warn("Using in-memory backend, data is lost on restart")
		return &StoreResult{Store: store, Cleanup: store.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// CreateExporter builds the settlement writer used by the export worker.
func (f *Factory) CreateExporter(ctx context.Context, config Config) (export.SettlementWriter, error) {
	switch config.Export {
	case SheetsExport:
		cli, err := gexport.New(ctx, config.Sheets)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets exporter: %w", err)
		}
		f.logger.Info("Initialized Google Sheets exporter", "sheet", config.Sheets.SheetName)
		return cli, nil
	case MemoryExport, "":
		f.logger.Info("Initialized in-memory exporter")
		return exportmem.New(), nil
	default:
		return nil, fmt.Errorf("unsupported export type: %s", config.Export)
	}
}
