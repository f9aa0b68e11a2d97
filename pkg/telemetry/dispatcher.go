package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/fleetgrid/telemetry-deadletter/pkg/deadletter"
	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
)

// Dispatcher is the live ingestion path: it routes an event to its handler
// and, when processing fails, captures the event durably so the retry
// coordinator can reprocess it later. Safe for use from concurrent ingestion
// workers.
type Dispatcher struct {
	registry *Registry
	store    deadletter.Store
	codec    Codec
	log      logger.Logger
	now      func() time.Time
}

// NewDispatcher wires the ingestion path together.
func NewDispatcher(registry *Registry, store deadletter.Store, codec Codec, log logger.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		codec:    codec,
		log:      log,
		now:      time.Now,
	}, nil
}

// Dispatch processes one live event. A handler failure is not returned to the
// caller: the event is dead-lettered and ingestion continues. Dispatch fails
// only when the event is invalid, the handler name is unknown, or durable
// capture itself failed; in the last case the caller must not drop the event.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	handler, err := d.registry.Lookup(event.Name)
	if err != nil {
		return err
	}

	procErr := handler.Process(ctx, event)
	if procErr == nil {
		return nil
	}

	d.log.WithContext(ctx).Warn("event processing failed, capturing to dead-letter store",
		"handler_name", event.Name, "imei", event.IMEI, "error", procErr)

	encoded, err := d.codec.Encode(event)
	if err != nil {
		return errors.Join(err, procErr)
	}

	id, err := d.store.Record(ctx, deadletter.RecordParams{
		Timestamp:   event.Timestamp,
		AttemptedAt: d.now().UTC().Unix(),
		EventData:   encoded,
		HandlerName: event.Name,
		IMEI:        event.IMEI,
	})
	if err != nil {
		// Capture failed: surface both errors so the caller can hold on
		// to the event instead of losing it.
		return errors.Join(err, procErr)
	}

	d.log.WithContext(ctx).Debug("event dead-lettered", "id", id, "handler_name", event.Name)
	return nil
}
