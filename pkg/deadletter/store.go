package deadletter

import "context"

// Store is the durable dead-letter buffer contract. All operations hit
// persistent storage directly; nothing is cached across calls, because the
// records must survive process restarts.
//
// Implementations must support concurrent inserts from ingestion workers
// while the retry coordinator lists, updates and removes records.
type Store interface {
	// Record inserts a new failed-event row and returns its id.
	Record(ctx context.Context, params RecordParams) (uint64, error)

	// ListPending returns records in ascending timestamp order. limit bounds
	// the batch size (0 means no bound); before, when > 0, excludes records
	// with a later origin timestamp.
	ListPending(ctx context.Context, limit int, before int64) ([]FailedEvent, error)

	// ListByIMEI returns up to limit failed events for one device.
	ListByIMEI(ctx context.Context, imei string, limit int) ([]FailedEvent, error)

	// NextFailedIMEI returns the device with the most recently attempted
	// failure, when any record exists.
	NextFailedIMEI(ctx context.Context) (string, bool, error)

	// MarkRetried records another failed attempt: bumps attempted_at and the
	// attempt counter. attempted_at never moves before the record's origin
	// timestamp. Returns ErrNotFound when the record was concurrently
	// removed; every other field is left untouched.
	MarkRetried(ctx context.Context, id uint64, attemptedAt int64) error

	// Remove deletes the record after a successful retry. Removing an absent
	// id is not an error.
	Remove(ctx context.Context, id uint64) error

	// Quarantine moves a record to the poison table so it is no longer
	// retried. The original row is deleted in the same transaction.
	Quarantine(ctx context.Context, id uint64, reason string) error

	// CountPending reports how many records are waiting for redelivery.
	CountPending(ctx context.Context) (int64, error)

	// HealthCheck verifies the backing storage is reachable.
	HealthCheck(ctx context.Context) error
}
