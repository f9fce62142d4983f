// Package sqlite provides a SQLite-backed repository that keeps the working
// set in memory and snapshots each logical table as a JSON payload after
// every successful mutation.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Repository = (*Store)(nil)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultPath = "assetcore.db"

var (
	sqlOpen   = sql.Open
	migrateDB = migrate
	gooseMu   sync.Mutex
)

// Store persists tables to a single SQLite table while serving reads and
// id allocation from the embedded memory store.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path, applies pending
// migrations and hydrates the memory store from the stored snapshots.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sqlOpen("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps concurrent table commits from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
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
	s := &Store{Store: mem, db: db, path: path}
	mem.SetCommitHook(s.persist)
	return s, nil
}

func migrate(_ context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
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
			return nil, fmt.Errorf("scan: %w", err)
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

// persist runs under the table lock held by the memory store, so snapshots
// of one table reach the database in mutation order.
func (s *Store) persist(ctx context.Context, name domain.Table, data domain.TableData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tables(name, payload, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(name), payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
