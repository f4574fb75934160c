package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"scanattend/internal/apperr"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// DB wraps the shared sqlx handle. One DB is opened by main and handed to
// every repository.
type DB struct {
	Client *sqlx.DB
	Driver string
}

// Open connects to Postgres for postgres:// URLs and to an embedded SQLite
// file otherwise, then applies the schema.
func Open(ctx context.Context, url string) (*DB, error) {
	driver, dsn := driverFor(url)
	if driver == DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == DriverSQLite {
		// single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{Client: db, Driver: driver}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func driverFor(url string) (driver, dsn string) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres, url
	}
	return DriverSQLite, strings.TrimPrefix(url, "sqlite://")
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema(d.Driver) {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func schema(driver string) []string {
	if driver == DriverPostgres {
		return []string{
			`CREATE TABLE IF NOT EXISTS attendance (
				id          BIGSERIAL PRIMARY KEY,
				barcode     TEXT NOT NULL,
				device_id   TEXT NOT NULL,
				scanned_at  TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id             BIGSERIAL PRIMARY KEY,
				username       TEXT UNIQUE NOT NULL,
				password_hash  TEXT NOT NULL,
				role           TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
				created_at     TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance(scanned_at)`,
			`CREATE INDEX IF NOT EXISTS idx_attendance_device ON attendance(device_id)`,
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS attendance (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			barcode     TEXT NOT NULL,
			device_id   TEXT NOT NULL,
			scanned_at  DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			username       TEXT UNIQUE NOT NULL,
			password_hash  TEXT NOT NULL,
			role           TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
			created_at     DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance(scanned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_device ON attendance(device_id)`,
	}
}

// Rebind converts ? placeholders to the driver's bind style.
func (d *DB) Rebind(query string) string { return d.Client.Rebind(query) }

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Classify maps a driver error to the apperr taxonomy. Unique constraint
// violations become Conflict; everything else is Storage.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, msg, err)
	}
	return apperr.Wrap(apperr.Storage, msg, err)
}

// IsUniqueViolation reports a UNIQUE constraint failure from either driver.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsNoRows reports whether err is sql.ErrNoRows.
func IsNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
