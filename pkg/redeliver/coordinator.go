// Package redeliver drives reprocessing of dead-lettered telemetry events.
// A coordinator periodically drains the store oldest-first, re-invokes the
// matching handler per record, removes records that succeed and keeps the
// rest for a later pass.
package redeliver

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/fleetgrid/telemetry-deadletter/pkg/deadletter"
	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
	"github.com/fleetgrid/telemetry-deadletter/pkg/resilience"
	"github.com/fleetgrid/telemetry-deadletter/pkg/telemetry"
)

const (
	DefaultInterval       = time.Minute
	DefaultBatchSize      = 100
	DefaultMaxAttempts    = 10
	DefaultAttemptTimeout = 30 * time.Second
	DefaultMaxBackoff     = 15 * time.Minute
	DefaultLockKey        = "drain"
	DefaultLockTTL        = 30 * time.Second

	tracerName = "redeliver"
)

// Config controls coordinator policy.
type Config struct {
	// Interval between batch passes.
	Interval time.Duration
	// BatchSize bounds how many records one pass touches.
	BatchSize int
	// MaxAttempts caps total failed attempts before a record is moved to
	// the poison table. The initial capture counts as the first attempt.
	MaxAttempts int
	// AttemptTimeout bounds one handler invocation; a timed-out handler is
	// treated as a failed attempt.
	AttemptTimeout time.Duration
	// RatePerSecond throttles replay attempts; zero disables throttling.
	RatePerSecond float64
	// QuarantineCorrupt moves records whose payload no longer decodes to
	// the poison table instead of leaving them in place.
	QuarantineCorrupt bool
	// MaxBackoff caps the delay between passes after consecutive
	// storage-error passes. The delay starts at Interval and doubles per
	// failed pass until it reaches this cap; a successful pass resets it.
	MaxBackoff time.Duration
	// LockKey and LockTTL apply when a LockProvider is configured.
	LockKey string
	LockTTL time.Duration
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = c.Interval
	}
	if strings.TrimSpace(c.LockKey) == "" {
		c.LockKey = DefaultLockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
}

// PassStats summarizes one batch pass for logs and the CLI.
type PassStats struct {
	Listed      int
	Succeeded   int
	Retried     int
	Quarantined int
	Corrupt     int
	Unknown     int
	Skipped     bool
}

// Coordinator owns the redelivery loop.
type Coordinator struct {
	store    deadletter.Store
	registry *telemetry.Registry
	codec    telemetry.Codec
	lock     LockProvider
	log      logger.Logger
	config   Config

	limiter *rate.Limiter
	tracer  trace.Tracer
	now     func() time.Time

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewCoordinator creates a coordinator. lock may be nil for single-instance
// deployments.
func NewCoordinator(
	store deadletter.Store,
	registry *telemetry.Registry,
	codec telemetry.Codec,
	lock LockProvider,
	log logger.Logger,
	cfg Config,
) (*Coordinator, error) {
	if store == nil {
		return nil, redeliverError(ErrInvalidArgument, "store is required")
	}
	if registry == nil {
		return nil, redeliverError(ErrInvalidArgument, "registry is required")
	}
	if codec == nil {
		return nil, redeliverError(ErrInvalidArgument, "codec is required")
	}
	if log == nil {
		return nil, redeliverError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Coordinator{
		store:    store,
		registry: registry,
		codec:    codec,
		lock:     lock,
		log:      log,
		config:   cfg,
		limiter:  limiter,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}, nil
}

// Start runs batch passes on the configured interval until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	if c == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		return redeliverError(ErrInvalidArgument, "context is required")
	}

	c.lifecycleMu.Lock()
	if c.running {
		c.lifecycleMu.Unlock()
		return redeliverError(ErrConflict, "coordinator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.lifecycleMu.Unlock()

	c.log.Info("redelivery coordinator started",
		"interval", c.config.Interval,
		"batch_size", c.config.BatchSize,
		"max_attempts", c.config.MaxAttempts,
		"handlers", c.registry.Names(),
	)

	c.wg.Add(1)
	go c.runLoop(runCtx)

	<-runCtx.Done()
	return c.Stop(context.Background())
}

// Stop requests shutdown and waits for an in-flight pass to finish.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.lifecycleMu.Lock()
	if !c.running {
		c.lifecycleMu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.cancel = nil
	c.running = false
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		c.log.Info("redelivery coordinator stopped")
		return nil
	}
}

func (c *Coordinator) runLoop(ctx context.Context) {
	defer c.wg.Done()

	failures := 0
	timer := time.NewTimer(c.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := c.RunOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				failures++
				delay := exponentialBackoff(failures, c.config.Interval, c.config.MaxBackoff)
				c.log.Warn("redelivery pass failed, backing off",
					"error", err, "consecutive_failures", failures, "next_pass_in", delay)
				timer.Reset(delay)
				continue
			}
			failures = 0
			timer.Reset(c.config.Interval)
		}
	}
}

// exponentialBackoff returns the delay before the next pass after `attempt`
// consecutive failed passes: initial, doubled per failure, capped at max.
func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = DefaultInterval
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempt <= 0 {
		return initial
	}

	backoff := initial
	for idx := 1; idx < attempt; idx++ {
		if backoff >= max/2 {
			return max
		}
		backoff *= 2
	}
	if backoff > max {
		return max
	}
	return backoff
}

// maxReasonLen matches the VARCHAR(191) reason column on failed_event_poison.
const maxReasonLen = 191

// truncateReason bounds a quarantine reason to maxReasonLen bytes, backing up
// to a rune boundary so a multi-byte character is never split.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	cut := maxReasonLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// RunOnce executes a single batch pass. Storage errors abort the pass and are
// returned; per-record handler, decode and dispatch failures are absorbed so
// one bad record cannot stall the batch.
func (c *Coordinator) RunOnce(ctx context.Context) (PassStats, error) {
	if c == nil {
		return PassStats{}, ErrNotInitialized
	}

	passID := uuid.NewString()
	ctx = logger.ContextWithCorrelationID(ctx, passID)
	log := c.log.WithContext(ctx)
	start := c.now()

	if c.lock != nil {
		lease, acquired, err := c.lock.Acquire(ctx, c.config.LockKey, c.config.LockTTL)
		if err != nil {
			recordPass("lock_error", c.now().Sub(start).Seconds())
			return PassStats{}, err
		}
		if !acquired {
			log.Debug("another coordinator instance holds the drain lock")
			recordPass("skipped", c.now().Sub(start).Seconds())
			return PassStats{Skipped: true}, nil
		}
		defer func() {
			if err := c.lock.Release(context.WithoutCancel(ctx), lease); err != nil {
				log.Warn("failed to release drain lock", "error", err)
			}
		}()
	}

	events, err := c.store.ListPending(ctx, c.config.BatchSize, 0)
	if err != nil {
		recordPass("storage_error", c.now().Sub(start).Seconds())
		return PassStats{}, err
	}

	stats := PassStats{Listed: len(events)}
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				break
			}
		}
		c.replay(ctx, &events[i], &stats)
	}

	if count, err := c.store.CountPending(ctx); err == nil {
		setPendingEvents(count)
	}

	recordPass("completed", c.now().Sub(start).Seconds())
	if stats.Listed > 0 {
		log.Info("redelivery pass completed",
			"listed", stats.Listed,
			"succeeded", stats.Succeeded,
			"retried", stats.Retried,
			"quarantined", stats.Quarantined,
			"corrupt", stats.Corrupt,
			"unknown_handler", stats.Unknown,
		)
	}
	return stats, nil
}

func (c *Coordinator) replay(ctx context.Context, record *deadletter.FailedEvent, stats *PassStats) {
	ctx, span := c.tracer.Start(ctx, "redeliver.replay", trace.WithAttributes(
		attribute.Int64("deadletter.id", int64(record.ID)),
		attribute.String("deadletter.handler_name", record.HandlerName),
		attribute.String("deadletter.imei", record.IMEI),
		attribute.Int("deadletter.attempt_count", record.AttemptCount),
	))
	defer span.End()

	log := c.log.WithContext(ctx).With("id", record.ID, "handler_name", record.HandlerName, "imei", record.IMEI)

	handler, err := c.registry.Lookup(record.HandlerName)
	if err != nil {
		// Misconfiguration: report and leave the record untouched so a
		// fixed deployment can pick it up again.
		log.Error("no handler registered for dead-lettered event", "error", err)
		recordReplay(record.HandlerName, outcomeUnknownHandler)
		span.SetStatus(codes.Error, "unknown handler")
		stats.Unknown++
		return
	}

	event, err := c.codec.Decode(record.EventData)
	if err != nil {
		// Corruption, not transient failure: no retry attempt is consumed
		// and attempted_at stays as it was.
		log.Error("dead-lettered payload no longer decodes", "error", err)
		recordReplay(record.HandlerName, outcomeCorrupt)
		span.SetStatus(codes.Error, "payload corrupt")
		stats.Corrupt++
		if c.config.QuarantineCorrupt {
			if qErr := c.store.Quarantine(ctx, record.ID, "payload corrupt: "+err.Error()); qErr != nil && !errors.Is(qErr, deadletter.ErrNotFound) {
				log.Error("failed to quarantine corrupt record", "error", qErr)
			} else {
				stats.Quarantined++
			}
		}
		return
	}

	execErr := c.invoke(ctx, handler, event)
	if execErr == nil {
		if err := c.store.Remove(ctx, record.ID); err != nil {
			log.Error("failed to remove reprocessed record", "error", err)
			recordReplay(record.HandlerName, outcomeStorageError)
			span.SetStatus(codes.Error, "remove failed")
			return
		}
		log.Info("dead-lettered event reprocessed")
		recordReplay(record.HandlerName, outcomeSuccess)
		span.SetStatus(codes.Ok, "")
		stats.Succeeded++
		return
	}

	attemptedAt := c.now().UTC().Unix()
	if attemptedAt < record.Timestamp {
		attemptedAt = record.Timestamp
	}
	if err := c.store.MarkRetried(ctx, record.ID, attemptedAt); err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			// A concurrent pass completed this record; nothing to do.
			log.Debug("record vanished during retry, treating as completed elsewhere")
			recordReplay(record.HandlerName, outcomeLostRace)
			return
		}
		log.Error("failed to mark retry attempt", "error", err)
		recordReplay(record.HandlerName, outcomeStorageError)
		span.SetStatus(codes.Error, "mark retried failed")
		return
	}

	if record.AttemptCount+1 >= c.config.MaxAttempts {
		reason := truncateReason(fmt.Sprintf("max attempts exhausted (%d): %v", record.AttemptCount+1, execErr))
		if qErr := c.store.Quarantine(ctx, record.ID, reason); qErr != nil && !errors.Is(qErr, deadletter.ErrNotFound) {
			log.Error("failed to quarantine exhausted record", "error", qErr)
			recordReplay(record.HandlerName, outcomeStorageError)
			span.SetStatus(codes.Error, "quarantine failed")
			return
		}
		log.Warn("record exhausted retry budget, quarantined", "attempts", record.AttemptCount+1, "error", execErr)
		recordReplay(record.HandlerName, outcomeQuarantined)
		span.SetStatus(codes.Error, "quarantined")
		stats.Quarantined++
		return
	}

	log.Warn("replay failed, keeping record for a later pass",
		"attempts", record.AttemptCount+1, "error", execErr)
	recordReplay(record.HandlerName, outcomeRetried)
	span.SetStatus(codes.Error, execErr.Error())
	stats.Retried++
}

// invoke runs one handler attempt with a bounded deadline and panic recovery.
func (c *Coordinator) invoke(ctx context.Context, handler telemetry.Handler, event *telemetry.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while handling event: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()

	return resilience.WithTimeout(ctx, c.config.AttemptTimeout, func(runCtx context.Context) error {
		return handler.Process(runCtx, event)
	})
}
