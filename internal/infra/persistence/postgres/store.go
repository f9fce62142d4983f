// Package postgres provides a Postgres-backed repository that mirrors the
// in-memory semantics and snapshots each logical table into a JSONB row.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/pressly/goose/v3"

	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Repository = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/assetcore?sslmode=disable"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	sqlOpen   = sql.Open
	migrateDB = migrate
	openMu    sync.Mutex
	gooseMu   sync.Mutex
)

// Store persists tables to Postgres while reusing the in-memory implementation
// for reads and id allocation.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN),
// applies migrations and hydrates the memory store from existing snapshots.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrateDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	state, err := loadTables(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(state)
	s := &Store{Store: mem, db: db}
	mem.SetCommitHook(s.persist)
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func loadTables(ctx context.Context, db *sql.DB) (map[domain.Table]domain.TableData, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, payload FROM tables`)
	if err != nil {
		return nil, fmt.Errorf("select tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	state := make(map[domain.Table]domain.TableData)
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("scan tables: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var data domain.TableData
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		state[domain.Table(name)] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return state, nil
}

func (s *Store) persist(ctx context.Context, name domain.Table, data domain.TableData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tables(name, payload, updated_at) VALUES($1, $2, now())
		 ON CONFLICT(name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		string(name), payload); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
