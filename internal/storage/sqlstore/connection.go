// Package sqlstore is the SQL backend for license keys and entitlements.
// The same schema and queries run on SQLite (modernc.org/sqlite) and
// PostgreSQL (lib/pq); both tables live in one database so redemptions can
// consume a key and extend an entitlement in a single transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"keyledger/internal/config"
	"keyledger/internal/storage"
)

// Store implements storage.KeyStore, storage.EntitlementStore and
// storage.Transactor on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	timeout time.Duration
	logger  *slog.Logger

	*keyStore
	*entitlementStore
}

var (
	_ storage.KeyStore         = (*Store)(nil)
	_ storage.EntitlementStore = (*Store)(nil)
	_ storage.Transactor       = (*Store)(nil)
	_ storage.Pinger           = (*Store)(nil)
)

// Open connects to the configured database, applies pool limits, pings it and
// creates the schema.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverSQLite:
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(dsn, cfg.BusyTimeout)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// One connection serializes writers inside SQLite itself.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := New(db, cfg.Driver, cfg.OperationTimeout, logger)

	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.InfoContext(ctx, "storage opened",
		slog.String("driver", cfg.Driver),
		slog.Duration("operation_timeout", cfg.OperationTimeout))

	return store, nil
}

// New wraps an existing connection pool. The schema is not created.
func New(db *sql.DB, driver string, timeout time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	d := dialect{driver: driver}
	return &Store{
		db:               db,
		dialect:          d,
		timeout:          timeout,
		logger:           logger.With(slog.String("component", "sqlstore")),
		keyStore:         &keyStore{q: db, db: db, dialect: d, timeout: timeout},
		entitlementStore: &entitlementStore{q: db, dialect: d, timeout: timeout},
	}
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// sqliteDSN appends per-connection pragmas understood by modernc.org/sqlite
func sqliteDSN(dsn string, busyTimeout time.Duration) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
