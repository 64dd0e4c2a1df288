package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"fleetledger/internal/storage"
	"fleetledger/internal/storage/storagetest"
)

func openSQLite(t *testing.T) storage.Store {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "fleetledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	storagetest.Run(t, openSQLite)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetledger.db")
	for i := 0; i < 2; i++ {
		repo, err := storage.NewSQLiteRepository(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if err := repo.Ping(context.Background()); err != nil {
			t.Fatalf("ping #%d: %v", i+1, err)
		}
		repo.Close()
	}
}

func TestSchemaVersion(t *testing.T) {
	initUp, err := os.ReadFile(filepath.Join("migrations", "0001_init.up.sql"))
	if err != nil {
		t.Fatal(err)
	}
	initDown, err := os.ReadFile(filepath.Join("migrations", "0001_init.down.sql"))
	if err != nil {
		t.Fatal(err)
	}
	schema := func(extra string) fstest.MapFS {
		return fstest.MapFS{
			"0001_init.up.sql":          {Data: initUp},
			"0001_init.down.sql":        {Data: initDown},
			"0002_route_notes.up.sql":   {Data: []byte(extra)},
			"0002_route_notes.down.sql": {Data: []byte("DROP TABLE IF EXISTS route_notes;")},
		}
	}

	t.Run("embedded", func(t *testing.T) {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "fleetledger.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer repo.Close()
		if v := repo.SchemaVersion(); v != 1 {
			t.Fatalf("SchemaVersion() = %d, want 1", v)
		}
	})

	t.Run("custom source", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fleetledger.db")
		src := schema("CREATE TABLE route_notes (id TEXT PRIMARY KEY, note TEXT NOT NULL);")
		for i := 0; i < 2; i++ {
			repo, err := storage.NewSQLiteRepository(path, storage.WithMigrations(src))
			if err != nil {
				t.Fatalf("open #%d: %v", i+1, err)
			}
			if v := repo.SchemaVersion(); v != 2 {
				t.Fatalf("open #%d: SchemaVersion() = %d, want 2", i+1, v)
			}
			repo.Close()
		}
	})

	t.Run("broken migration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fleetledger.db")
		if _, err := storage.NewSQLiteRepository(path, storage.WithMigrations(schema("CREATE TABL oops;"))); err == nil {
			t.Fatal("expected an error for an invalid migration")
		}
	})
}
