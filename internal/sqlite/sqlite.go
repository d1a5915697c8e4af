package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/mr-karan/safetyvision/internal/config"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultReadConns   = 8
	defaultBusyTimeout = 5 * time.Second
)

// DB is the audit store. Reads go through a pool; writes share one
// connection since SQLite allows a single writer.
type DB struct {
	readDB  *sql.DB
	writeDB *sql.DB
	log     *slog.Logger
}

// Options holds configuration for creating a new DB instance.
type Options struct {
	Logger *slog.Logger
	Config config.SQLiteConfig
}

// New migrates the database at opts.Config.Path and opens the read and write pools.
func New(opts Options) (*DB, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.MaxReadConns <= 0 {
		cfg.MaxReadConns = defaultReadConns
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	log = log.With("component", "sqlite", "path", cfg.Path)

	if err := migrateUp(cfg, log); err != nil {
		return nil, err
	}

	readDB, err := openPool(cfg.Path, cfg, cfg.MaxReadConns)
	if err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}
	// _txlock=immediate takes the write lock at BEGIN so that two
	// transactions never both upgrade from a read lock.
	writeDB, err := openPool(cfg.Path+"?_txlock=immediate", cfg, 1)
	if err != nil {
		readDB.Close()
		return nil, fmt.Errorf("write pool: %w", err)
	}

	log.Debug("sqlite ready", "read_conns", cfg.MaxReadConns, "busy_timeout", cfg.BusyTimeout)
	return &DB{readDB: readDB, writeDB: writeDB, log: log}, nil
}

func openPool(dsn string, cfg config.SQLiteConfig, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	if maxConns > 1 {
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	for _, pragma := range pragmas(cfg) {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("error setting %q: %w", pragma, err)
		}
	}
	return db, nil
}

func pragmas(cfg config.SQLiteConfig) []string {
	return []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
		// modernc.org/sqlite misbehaves with mmap.
		"PRAGMA mmap_size = 0",
		"PRAGMA journal_size_limit = 5000000",
	}
}

// migrateUp applies the embedded migrations over a short-lived connection.
func migrateUp(cfg config.SQLiteConfig, log *slog.Logger) error {
	conn, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return fmt.Errorf("error opening migration database: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("error preparing migration database: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("error reading embedded migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("error creating migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(conn, &sqlite3.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn("error closing migrator", "source_error", srcErr, "db_error", dbErr)
		}
	}()

	if v, dirty, err := m.Version(); err == nil && dirty {
		log.Warn("schema is marked dirty; migrations may need manual repair", "version", v)
	}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Debug("schema up to date")
	case err != nil:
		log.Error("migration failed", "error", err)
		return fmt.Errorf("error applying migrations: %w", err)
	default:
		v, _, _ := m.Version()
		log.Info("schema migrated", "version", v)
	}
	return nil
}

// Close closes both pools.
func (db *DB) Close() error {
	return errors.Join(db.writeDB.Close(), db.readDB.Close())
}

// Ping checks that both pools can reach the database.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.readDB.PingContext(ctx); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	if err := db.writeDB.PingContext(ctx); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	return nil
}
