package deadletter

import "strings"

// FailedEvent is one durably persisted record of an event that could not be
// processed. Timestamps are epoch seconds, matching what telemetry producers
// write on the device stream.
type FailedEvent struct {
	// ID is assigned by the store on insert and never reused.
	ID uint64
	// Timestamp is the origin time of the event, set by the producer.
	Timestamp int64
	// AttemptedAt is the time of the most recent processing attempt.
	AttemptedAt int64
	// EventData is the serialized event payload, opaque to the store.
	EventData string
	// HandlerName identifies which handler must reprocess this event.
	HandlerName string
	// IMEI is the device identifier the event originated from.
	IMEI string
	// AttemptCount is the number of failed processing attempts so far,
	// including the one that dead-lettered the event.
	AttemptCount int
}

// RecordParams carries the fields of a new failed-event row.
type RecordParams struct {
	Timestamp   int64
	AttemptedAt int64
	EventData   string
	HandlerName string
	IMEI        string
}

// Validate checks the fields required for a durable insert. AttemptedAt
// earlier than Timestamp is clamped rather than rejected so producer clock
// skew cannot lose data; the store keeps the invariant attempted_at >= timestamp.
func (p *RecordParams) Validate() error {
	if strings.TrimSpace(p.HandlerName) == "" {
		return deadletterError(ErrInvalidArgument, "handler name is required")
	}
	if len(p.HandlerName) > 191 {
		return deadletterError(ErrInvalidArgument, "handler name exceeds 191 characters")
	}
	if strings.TrimSpace(p.IMEI) == "" {
		return deadletterError(ErrInvalidArgument, "imei is required")
	}
	if len(p.IMEI) > 20 {
		return deadletterError(ErrInvalidArgument, "imei exceeds 20 characters")
	}
	if p.EventData == "" {
		return deadletterError(ErrInvalidArgument, "event data is required")
	}
	if p.Timestamp <= 0 {
		return deadletterError(ErrInvalidArgument, "timestamp must be > 0")
	}
	return nil
}

func (p *RecordParams) normalize() {
	if p.AttemptedAt < p.Timestamp {
		p.AttemptedAt = p.Timestamp
	}
}
