package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"cryptic-hunt-service/internal/infra/sqldb/migrations"
	"cryptic-hunt-service/internal/logging"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	_ "modernc.org/sqlite"
)

// Store persists hunts, progress, leaderboard and first-blood state through bun.
// It runs on SQLite (single writer) or Postgres (pooled).
type Store struct {
	db    *bun.DB
	log   *slog.Logger
	clock func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for recoverable data problems.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens a store for driver "sqlite" (dsn is a file path) or "postgres" (dsn is a URL).
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case "sqlite", "":
		return OpenSQLite(dsn, opts...)
	case "postgres":
		return OpenPostgres(dsn, opts...)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenSQLite opens a SQLite database file with one connection.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer; one connection serializes transactions instead of failing them.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return newStore(bun.NewDB(sqlDB, sqlitedialect.New()), opts...), nil
}

// OpenPostgres opens a pooled Postgres connection.
func OpenPostgres(url string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("postgres url not configured")
	}
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return newStore(bun.NewDB(sqlDB, pgdialect.New()), opts...), nil
}

func newStore(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDefault(s.log)
	return s
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate applies every pending schema migration.
func (s *Store) Migrate(ctx context.Context) error {
	migrator := migrate.NewMigrator(s.db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if !group.IsZero() {
		s.log.Info("migrations applied", slog.String("group", group.String()))
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}
