package redeliver

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies configuration validation failures.
	ErrValidation = errors.New("redeliver validation error")
	// ErrConflict classifies state conflicts, for example starting an
	// already running coordinator.
	ErrConflict = errors.New("redeliver conflict")
	// ErrRetryable classifies transient failures safe to retry on the next
	// scheduled pass.
	ErrRetryable = errors.New("redeliver retryable error")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("redeliver invalid argument")
	// ErrNotInitialized classifies an unconstructed coordinator or provider.
	ErrNotInitialized = errors.New("redeliver not initialized")
)

func redeliverError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
