package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
)

// Executor is the SQL surface the store needs. Satisfied by *sql.DB and by
// the mysql adapter, which additionally routes statements through an active
// transaction stored in the context.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TransactionalExecutor is implemented by executors that can run a function
// inside a transaction, propagated through the context.
type TransactionalExecutor interface {
	Executor
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

const failedEventColumns = "id, timestamp, attempted_at, event_data, handler_name, imei, attempt_count"

// MySQLStore is the MySQL implementation of Store over the failed_event table.
type MySQLStore struct {
	db  Executor
	log logger.Logger
}

// NewMySQLStore creates a store over the given executor.
func NewMySQLStore(db Executor, log logger.Logger) (*MySQLStore, error) {
	if db == nil {
		return nil, deadletterError(ErrInvalidArgument, "executor is required")
	}
	if log == nil {
		return nil, deadletterError(ErrInvalidArgument, "logger is required")
	}
	return &MySQLStore{db: db, log: log}, nil
}

// Record inserts a failed event and returns the auto-assigned id.
func (s *MySQLStore) Record(ctx context.Context, params RecordParams) (uint64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	if err := params.Validate(); err != nil {
		return 0, err
	}
	params.normalize()

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO failed_event (timestamp, attempted_at, event_data, handler_name, imei, attempt_count) VALUES (?, ?, ?, ?, ?, ?)",
		params.Timestamp, params.AttemptedAt, params.EventData, params.HandlerName, params.IMEI, 1,
	)
	if err != nil {
		return 0, errors.Join(deadletterError(ErrStorage, "insert failed event"), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Join(deadletterError(ErrStorage, "read inserted id"), err)
	}

	recordEventRecorded(params.HandlerName)
	s.log.Debug("failed event recorded",
		"id", id, "handler_name", params.HandlerName, "imei", params.IMEI)
	return uint64(id), nil
}

// ListPending returns records oldest-first by origin timestamp.
func (s *MySQLStore) ListPending(ctx context.Context, limit int, before int64) ([]FailedEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}

	query := "SELECT " + failedEventColumns + " FROM failed_event"
	args := []interface{}{}
	if before > 0 {
		query += " WHERE timestamp <= ?"
		args = append(args, before)
	}
	query += " ORDER BY timestamp ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(deadletterError(ErrStorage, "list pending failed events"), err)
	}
	defer rows.Close()

	return scanFailedEvents(rows)
}

// ListByIMEI returns up to limit failed events for one device, oldest-first.
func (s *MySQLStore) ListByIMEI(ctx context.Context, imei string, limit int) ([]FailedEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	if strings.TrimSpace(imei) == "" {
		return nil, deadletterError(ErrInvalidArgument, "imei is required")
	}

	query := "SELECT " + failedEventColumns + " FROM failed_event WHERE imei = ? ORDER BY timestamp ASC"
	args := []interface{}{imei}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(deadletterError(ErrStorage, "list failed events by imei"), err)
	}
	defer rows.Close()

	return scanFailedEvents(rows)
}

// NextFailedIMEI returns the device whose failure was attempted most recently.
func (s *MySQLStore) NextFailedIMEI(ctx context.Context) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrNotInitialized
	}

	var imei string
	err := s.db.QueryRowContext(ctx,
		"SELECT imei FROM failed_event ORDER BY attempted_at DESC LIMIT 1",
	).Scan(&imei)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Join(deadletterError(ErrStorage, "query next failed imei"), err)
	}
	return imei, true, nil
}

// MarkRetried bumps attempted_at and attempt_count on an existing record.
// attempted_at is clamped to the record's origin timestamp so a caller with a
// skewed clock cannot leave a row attempted before it ever failed.
func (s *MySQLStore) MarkRetried(ctx context.Context, id uint64, attemptedAt int64) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE failed_event SET attempted_at = GREATEST(?, timestamp), attempt_count = attempt_count + 1 WHERE id = ?",
		attemptedAt, id,
	)
	if err != nil {
		return errors.Join(deadletterError(ErrStorage, "update attempted_at"), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Join(deadletterError(ErrStorage, "read affected rows"), err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	recordEventRetried()
	return nil
}

// Remove deletes a record. Absent ids are not an error so a concurrent
// successful retry cannot fail the caller.
func (s *MySQLStore) Remove(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM failed_event WHERE id = ?", id); err != nil {
		return errors.Join(deadletterError(ErrStorage, "delete failed event"), err)
	}
	recordEventRemoved()
	return nil
}

// Quarantine copies a record into failed_event_poison and deletes the
// original, transactionally when the executor supports it.
func (s *MySQLStore) Quarantine(ctx context.Context, id uint64, reason string) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}

	move := func(txCtx context.Context) error {
		result, err := s.db.ExecContext(txCtx,
			`INSERT INTO failed_event_poison
			   (failed_event_id, timestamp, attempted_at, event_data, handler_name, imei, attempt_count, reason, quarantined_at)
			 SELECT id, timestamp, attempted_at, event_data, handler_name, imei, attempt_count, ?, ?
			   FROM failed_event WHERE id = ?`,
			reason, time.Now().UTC().Unix(), id,
		)
		if err != nil {
			return errors.Join(deadletterError(ErrStorage, "copy record to poison table"), err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return errors.Join(deadletterError(ErrStorage, "read affected rows"), err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		if _, err := s.db.ExecContext(txCtx, "DELETE FROM failed_event WHERE id = ?", id); err != nil {
			return errors.Join(deadletterError(ErrStorage, "delete quarantined record"), err)
		}
		return nil
	}

	var err error
	if tx, ok := s.db.(TransactionalExecutor); ok {
		err = tx.WithTransaction(ctx, move)
	} else {
		err = move(ctx)
	}
	if err != nil {
		return err
	}

	recordEventQuarantined()
	s.log.Warn("failed event quarantined", "id", id, "reason", reason)
	return nil
}

// CountPending reports the number of records waiting for redelivery.
func (s *MySQLStore) CountPending(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM failed_event").Scan(&count); err != nil {
		return 0, errors.Join(deadletterError(ErrStorage, "count pending failed events"), err)
	}
	return count, nil
}

// HealthCheck verifies the table is queryable.
func (s *MySQLStore) HealthCheck(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Join(deadletterError(ErrStorage, "health check"), err)
	}
	return nil
}

func scanFailedEvents(rows *sql.Rows) ([]FailedEvent, error) {
	events := []FailedEvent{}
	for rows.Next() {
		var e FailedEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.AttemptedAt, &e.EventData, &e.HandlerName, &e.IMEI, &e.AttemptCount); err != nil {
			return nil, errors.Join(deadletterError(ErrStorage, "scan failed event row"), err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(deadletterError(ErrStorage, "iterate failed event rows"), err)
	}
	return events, nil
}
