package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"jk-analytics/models"
	"jk-analytics/utils"
)

//go:embed migrations
var migrations embed.FS

// Dialect is the SQL flavour behind a Store.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Store is the historical store: listings, the complex directory,
// exclusions and performance snapshots share one database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	keys    *utils.KeyedMutex
	now     func() time.Time
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, dialect Dialect, logger *zap.Logger) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		keys:    utils.NewKeyedMutex(64),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Open connects to the database, waits for it to accept connections, runs
// schema migrations and returns a ready Store.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	dialect := Dialect(driver)
	switch dialect {
	case Postgres:
	case SQLite:
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if dialect == SQLite {
		// one connection: SQLite has a single writer, and :memory: databases
		// are per connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("[storage] database not ready, retrying", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping failed after retries: %w", err)
	}

	if err := Migrate(db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("[storage] database ready", zap.String("driver", driver))
	return NewStore(db, dialect, logger), nil
}

// Migrate applies the embedded schema migrations for dialect.
func Migrate(db *sql.DB, dialect Dialect) error {
	src, err := iofs.New(migrations, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("storage: migration source: %w", err)
	}

	var drv database.Driver
	switch dialect {
	case Postgres:
		drv, err = migratepg.WithInstance(db, &migratepg.Config{})
	case SQLite:
		drv, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return fmt.Errorf("storage: unsupported dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("storage: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), drv)
	if err != nil {
		return fmt.Errorf("storage: migrate init: %w", err)
	}
	// m.Close would close db through the driver, so it is not called.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("storage: create sqlite dir: %w", err)
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) builder() sq.StatementBuilderType {
	if s.dialect == Postgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func wrapErr(err error, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &models.NotFoundError{Key: key}
	}
	return err
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
