// Package mysql provides pooled MySQL connectivity for the failed-event
// store and the migration runner.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
)

// Config holds MySQL pool configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// Adapter wraps a *sql.DB with pool settings, query timeouts and transaction
// propagation through context.
type Adapter struct {
	db     *sql.DB
	logger logger.Logger
	config Config
}

// NewAdapter opens a connection pool and verifies connectivity with a ping.
// It does not run migrations.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("mysql", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	log.Info("MySQL connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
	)

	return &Adapter{db: db, logger: log, config: cfg}, nil
}

// NewAdapterFromDB wraps an already opened handle. Used by tests and by
// callers that manage the pool themselves.
func NewAdapterFromDB(db *sql.DB, log logger.Logger, cfg Config) *Adapter {
	return &Adapter{db: db, logger: log, config: cfg}
}

// DB exposes the underlying handle for components that need raw access,
// such as the migration runner.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Ping performs a basic connectivity check.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// HealthCheck verifies the database is reachable within a bounded deadline.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.db.PingContext(hcCtx); err != nil {
		a.logger.Error("MySQL health check failed", "error", err)
		return fmt.Errorf("mysql health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	a.logger.Info("closing MySQL connection")
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close mysql connection: %w", err)
	}
	return nil
}

type contextKey string

const txContextKey contextKey = "mysql_tx"

// GetTx returns the transaction stored in ctx by WithTransaction, if any.
func GetTx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey).(*sql.Tx)
	return tx, ok
}

// WithTransaction runs fn inside a transaction with automatic
// commit/rollback. The transaction is propagated to nested Exec/Query calls
// through the context.
func (a *Adapter) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				a.logger.Error("failed to rollback transaction after panic", "panic", p, "rollback_error", rbErr)
			}
			panic(p)
		}
	}()

	txCtx := context.WithValue(ctx, txContextKey, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExecContext executes a statement, routing through an active transaction
// when present and applying the configured query timeout.
func (a *Adapter) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	queryCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()
	if tx, ok := GetTx(ctx); ok {
		return tx.ExecContext(queryCtx, query, args...)
	}
	return a.db.ExecContext(queryCtx, query, args...)
}

// QueryContext runs a query, routing through an active transaction when
// present. The caller's context is passed through unchanged: *sql.Rows closes
// itself when its context is cancelled, so a deadline scoped to this call
// would abort the caller's row iteration. Callers that need a read deadline
// set one on ctx and keep it alive until the rows are drained.
func (a *Adapter) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if tx, ok := GetTx(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return a.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query, routing through an active
// transaction when present. Like QueryContext it passes ctx through: *sql.Row
// holds its rows open until Scan, so cancelling before Scan would lose the
// result.
func (a *Adapter) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if tx, ok := GetTx(ctx); ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return a.db.QueryRowContext(ctx, query, args...)
}

// withQueryTimeout bounds a statement with the configured query timeout. Only
// used for operations whose result is fully materialized before the deferred
// cancel runs.
func (a *Adapter) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}
