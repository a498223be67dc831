package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// Dialect identifies the SQL backend behind a DB.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// DB wraps the database/sql connection pool shared by every repository.
type DB struct {
	SQL     *sql.DB
	dialect Dialect
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens a connection pool. URLs starting with postgres:// or
// postgresql:// use pgx; anything else is treated as a SQLite file path or
// a modernc "file:" DSN.
func New(ctx context.Context, databaseURL string, maxConns int) (*DB, error) {
	driver, dsn, dialect, err := resolveDSN(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		pool.SetMaxOpenConns(maxConns)
		pool.SetMaxIdleConns(maxConns)
	}

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database", "dialect", dialect.String())
	return &DB{SQL: pool, dialect: dialect}, nil
}

func resolveDSN(databaseURL string) (driver, dsn string, dialect Dialect, err error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return "pgx", databaseURL, Postgres, nil
	}
	if strings.HasPrefix(databaseURL, "file:") {
		return "sqlite", databaseURL, SQLite, nil
	}
	if databaseURL == "" {
		return "", "", SQLite, errors.New("database url is required")
	}

	absPath, err := filepath.Abs(databaseURL)
	if err != nil {
		return "", "", SQLite, fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
		return "", "", SQLite, fmt.Errorf("failed to create database directory: %w", err)
	}
	dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		filepath.ToSlash(absPath))
	return "sqlite", dsn, SQLite, nil
}

// Dialect reports which backend the pool talks to.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// RunMigrations applies the embedded migrations for the active dialect.
func (db *DB) RunMigrations(ctx context.Context) error {
	source, err := iofs.New(migrationFiles, "migrations/"+db.dialect.String())
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	defer func() {
		_ = source.Close()
	}()

	var m *migrate.Migrate
	switch db.dialect {
	case Postgres:
		driver, err := migratepgx.WithInstance(db.SQL, &migratepgx.Config{})
		if err != nil {
			return fmt.Errorf("failed to initialise migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "pgx5", driver)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		// The pgx driver pins a pooled connection; release it. It never
		// closes a *sql.DB it did not open.
		defer m.Close()
	default:
		// The sqlite driver closes the *sql.DB on Close, so the migrator is
		// left open and only the source is released.
		driver, err := migratesqlite.WithInstance(db.SQL, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("failed to initialise migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "sqlite", driver)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, err := m.Version()
	if err == nil {
		slog.Info("database migrations complete", "version", version)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing only when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.SQL.PingContext(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	return db.SQL.Close()
}

// rebind rewrites '?' placeholders to $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
