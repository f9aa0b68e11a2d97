package deadletter

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage classifies persistence failures: the database is
	// unreachable or rejected a statement. Callers retry on their own
	// schedule; data is never silently dropped.
	ErrStorage = errors.New("deadletter storage error")
	// ErrNotFound classifies operations on a record that no longer exists,
	// usually because a concurrent successful retry removed it.
	ErrNotFound = errors.New("deadletter record not found")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("deadletter invalid argument")
	// ErrNotInitialized classifies use of an unconstructed store.
	ErrNotInitialized = errors.New("deadletter store not initialized")
)

func deadletterError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
