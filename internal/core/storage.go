package core

import (
	"context"
	"fmt"
	"strings"

	"assetcore/internal/infra/persistence/memory"
	"assetcore/internal/infra/persistence/postgres"
	"assetcore/internal/infra/persistence/sqlite"
	"assetcore/pkg/domain"
)

// StorageDriver identifies a repository backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // process memory (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the repository backend. An empty
// driver selects sqlite.
type StorageConfig struct {
	Driver      string `koanf:"driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`
}

// Store is a repository that holds resources until closed.
type Store interface {
	domain.Repository
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// OpenStore opens the backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg StorageConfig) (Store, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memoryStore{memory.NewStore()}, nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store { return memoryStore{memory.NewStore()} }
