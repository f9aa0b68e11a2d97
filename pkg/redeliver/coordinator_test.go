package redeliver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fleetgrid/telemetry-deadletter/pkg/deadletter"
	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
	"github.com/fleetgrid/telemetry-deadletter/pkg/telemetry"
)

type testLogger struct{}

func (l *testLogger) Debug(string, ...any)                      {}
func (l *testLogger) Info(string, ...any)                       {}
func (l *testLogger) Warn(string, ...any)                       {}
func (l *testLogger) Error(string, ...any)                      {}
func (l *testLogger) With(...any) logger.Logger                 { return l }
func (l *testLogger) WithContext(context.Context) logger.Logger { return l }

type memStore struct {
	mu          sync.Mutex
	nextID      uint64
	events      map[uint64]deadletter.FailedEvent
	poison      map[uint64]string
	listErr     error
	markErr     error
	removeErr   error
	removedIDs  []uint64
	retriedIDs  []uint64
	markedTimes map[uint64]int64
}

func newMemStore() *memStore {
	return &memStore{
		nextID:      1,
		events:      make(map[uint64]deadletter.FailedEvent),
		poison:      make(map[uint64]string),
		markedTimes: make(map[uint64]int64),
	}
}

func (s *memStore) add(ev deadletter.FailedEvent) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextID
	s.nextID++
	s.events[ev.ID] = ev
	return ev.ID
}

func (s *memStore) Record(ctx context.Context, params deadletter.RecordParams) (uint64, error) {
	return s.add(deadletter.FailedEvent{
		Timestamp:    params.Timestamp,
		AttemptedAt:  params.AttemptedAt,
		EventData:    params.EventData,
		HandlerName:  params.HandlerName,
		IMEI:         params.IMEI,
		AttemptCount: 1,
	}), nil
}

func (s *memStore) ListPending(ctx context.Context, limit int, before int64) ([]deadletter.FailedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]deadletter.FailedEvent, 0, len(s.events))
	for _, ev := range s.events {
		if before > 0 && ev.Timestamp > before {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListByIMEI(ctx context.Context, imei string, limit int) ([]deadletter.FailedEvent, error) {
	return nil, nil
}

func (s *memStore) NextFailedIMEI(ctx context.Context) (string, bool, error) {
	return "", false, nil
}

func (s *memStore) MarkRetried(ctx context.Context, id uint64, attemptedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	ev, ok := s.events[id]
	if !ok {
		return deadletter.ErrNotFound
	}
	ev.AttemptedAt = attemptedAt
	ev.AttemptCount++
	s.events[id] = ev
	s.retriedIDs = append(s.retriedIDs, id)
	s.markedTimes[id] = attemptedAt
	return nil
}

func (s *memStore) Remove(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	delete(s.events, id)
	s.removedIDs = append(s.removedIDs, id)
	return nil
}

func (s *memStore) Quarantine(ctx context.Context, id uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return deadletter.ErrNotFound
	}
	delete(s.events, id)
	s.poison[id] = reason
	return nil
}

func (s *memStore) CountPending(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (s *memStore) HealthCheck(ctx context.Context) error { return nil }

type fakeLock struct {
	acquired    bool
	acquireErr  error
	releases    int
	acquisitons int
}

func (l *fakeLock) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	l.acquisitons++
	if l.acquireErr != nil {
		return nil, false, l.acquireErr
	}
	if !l.acquired {
		return nil, false, nil
	}
	return &LockLease{Key: key, Token: "token"}, true, nil
}

func (l *fakeLock) Release(ctx context.Context, lease *LockLease) error {
	l.releases++
	return nil
}

func (l *fakeLock) HealthCheck(ctx context.Context) error { return nil }
func (l *fakeLock) Close() error                          { return nil }

func newTestRegistry(t *testing.T, handlers ...telemetry.Handler) *telemetry.Registry {
	t.Helper()
	registry := telemetry.NewRegistry()
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			t.Fatalf("register handler %q: %v", h.Name(), err)
		}
	}
	return registry
}

func encodeEvent(t *testing.T, name, imei string, timestamp int64, payload any) string {
	t.Helper()
	event, err := telemetry.NewEvent(name, imei, timestamp, payload)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	data, err := telemetry.NewJSONCodec().Encode(event)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return data
}

func newTestCoordinator(t *testing.T, store deadletter.Store, registry *telemetry.Registry, lock LockProvider, cfg Config) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(store, registry, telemetry.NewJSONCodec(), lock, &testLogger{}, cfg)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return c
}

func TestNewCoordinator_Validation(t *testing.T) {
	registry := telemetry.NewRegistry()
	store := newMemStore()
	codec := telemetry.NewJSONCodec()
	log := &testLogger{}

	tests := []struct {
		name string
		fn   func() (*Coordinator, error)
	}{
		{"nil store", func() (*Coordinator, error) {
			return NewCoordinator(nil, registry, codec, nil, log, Config{})
		}},
		{"nil registry", func() (*Coordinator, error) {
			return NewCoordinator(store, nil, codec, nil, log, Config{})
		}},
		{"nil codec", func() (*Coordinator, error) {
			return NewCoordinator(store, registry, nil, nil, log, Config{})
		}},
		{"nil logger", func() (*Coordinator, error) {
			return NewCoordinator(store, registry, codec, nil, nil, Config{})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.fn(); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestConfig_Normalize(t *testing.T) {
	cfg := Config{}
	cfg.normalize()

	if cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", cfg.Interval, DefaultInterval)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, DefaultBatchSize)
	}
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.AttemptTimeout != DefaultAttemptTimeout {
		t.Errorf("AttemptTimeout = %v, want %v", cfg.AttemptTimeout, DefaultAttemptTimeout)
	}
	if cfg.LockKey != DefaultLockKey {
		t.Errorf("LockKey = %q, want %q", cfg.LockKey, DefaultLockKey)
	}
	if cfg.LockTTL != DefaultLockTTL {
		t.Errorf("LockTTL = %v, want %v", cfg.LockTTL, DefaultLockTTL)
	}
	if cfg.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("MaxBackoff = %v, want %v", cfg.MaxBackoff, DefaultMaxBackoff)
	}

	t.Run("max backoff never below interval", func(t *testing.T) {
		cfg := Config{Interval: time.Hour, MaxBackoff: time.Minute}
		cfg.normalize()
		if cfg.MaxBackoff != time.Hour {
			t.Errorf("MaxBackoff = %v, want raised to interval %v", cfg.MaxBackoff, time.Hour)
		}
	})
}

func TestRunOnce_SuccessRemovesRecord(t *testing.T) {
	store := newMemStore()
	var processed []string
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerSpeed,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			processed = append(processed, event.IMEI)
			return nil
		},
	}
	registry := newTestRegistry(t, handler)

	id := store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000000,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 72}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 1,
	})

	c := newTestCoordinator(t, store, registry, nil, Config{})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if stats.Succeeded != 1 || stats.Listed != 1 {
		t.Errorf("stats = %+v, want 1 listed and 1 succeeded", stats)
	}
	if len(processed) != 1 || processed[0] != "356307042441013" {
		t.Errorf("processed = %v, want one event for 356307042441013", processed)
	}
	if len(store.removedIDs) != 1 || store.removedIDs[0] != id {
		t.Errorf("removedIDs = %v, want [%d]", store.removedIDs, id)
	}
	if len(store.events) != 0 {
		t.Errorf("store still holds %d events, want 0", len(store.events))
	}
}

func TestRunOnce_OldestFirstAndBatchLimit(t *testing.T) {
	store := newMemStore()
	var order []int64
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerOdometer,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			order = append(order, event.Timestamp)
			return nil
		},
	}
	registry := newTestRegistry(t, handler)

	for _, ts := range []int64{1700000300, 1700000100, 1700000200} {
		store.add(deadletter.FailedEvent{
			Timestamp:    ts,
			AttemptedAt:  ts,
			EventData:    encodeEvent(t, telemetry.HandlerOdometer, "356307042441013", ts, telemetry.OdometerPayload{Odometer: 120000}),
			HandlerName:  telemetry.HandlerOdometer,
			IMEI:         "356307042441013",
			AttemptCount: 1,
		})
	}

	c := newTestCoordinator(t, store, registry, nil, Config{BatchSize: 2})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if stats.Listed != 2 {
		t.Errorf("Listed = %d, want 2", stats.Listed)
	}
	want := []int64{1700000100, 1700000200}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("replay order = %v, want %v", order, want)
	}
}

func TestRunOnce_FailureMarksRetried(t *testing.T) {
	store := newMemStore()
	handlerErr := errors.New("downstream unavailable")
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerTemperature,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			return handlerErr
		},
	}
	registry := newTestRegistry(t, handler)

	origin := int64(1700000000)
	id := store.add(deadletter.FailedEvent{
		Timestamp:    origin,
		AttemptedAt:  origin,
		EventData: encodeEvent(t, telemetry.HandlerTemperature, "356307042441013", origin, telemetry.TemperaturePayload{
			Readings: []telemetry.TemperatureReading{{SensorID: "1", Celsius: 4.5}},
		}),
		HandlerName:  telemetry.HandlerTemperature,
		IMEI:         "356307042441013",
		AttemptCount: 1,
	})

	c := newTestCoordinator(t, store, registry, nil, Config{})
	c.now = func() time.Time { return time.Unix(1700000500, 0) }

	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if stats.Retried != 1 {
		t.Errorf("Retried = %d, want 1", stats.Retried)
	}
	ev, ok := store.events[id]
	if !ok {
		t.Fatal("record was removed, want it kept for a later pass")
	}
	if ev.AttemptedAt != 1700000500 {
		t.Errorf("AttemptedAt = %d, want 1700000500", ev.AttemptedAt)
	}
	if ev.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", ev.AttemptCount)
	}
	if ev.Timestamp != origin {
		t.Errorf("Timestamp = %d, want original %d", ev.Timestamp, origin)
	}
}

func TestRunOnce_ExhaustedRecordQuarantined(t *testing.T) {
	store := newMemStore()
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerSpeed,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			return errors.New("still failing")
		},
	}
	registry := newTestRegistry(t, handler)

	id := store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000400,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 95}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 2,
	})

	c := newTestCoordinator(t, store, registry, nil, Config{MaxAttempts: 3})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if stats.Quarantined != 1 {
		t.Errorf("Quarantined = %d, want 1", stats.Quarantined)
	}
	if _, ok := store.events[id]; ok {
		t.Error("record still pending, want it moved to the poison table")
	}
	if _, ok := store.poison[id]; !ok {
		t.Error("record missing from poison table")
	}
}

func TestRunOnce_QuarantineReasonKeepsValidUTF8(t *testing.T) {
	store := newMemStore()
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerSpeed,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			return errors.New(strings.Repeat("Geschwindigkeitsüberschreitung ", 20))
		},
	}

	id := store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000400,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 140}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 2,
	})

	c := newTestCoordinator(t, store, newTestRegistry(t, handler), nil, Config{MaxAttempts: 3})
	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	reason, ok := store.poison[id]
	if !ok {
		t.Fatal("record missing from poison table")
	}
	if len(reason) > 191 {
		t.Errorf("reason is %d bytes, want at most 191", len(reason))
	}
	if !utf8.ValidString(reason) {
		t.Errorf("reason is not valid UTF-8: %q", reason)
	}
}

func TestTruncateReason(t *testing.T) {
	short := "handler refused the event"
	if got := truncateReason(short); got != short {
		t.Errorf("truncateReason(%q) = %q, want unchanged", short, got)
	}

	// 95 two-byte runes are 190 bytes; one more rune would straddle the limit.
	long := strings.Repeat("ü", 96)
	got := truncateReason(long)
	if len(got) != 190 {
		t.Errorf("len = %d, want 190 (rune boundary below 191)", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated reason is not valid UTF-8: %q", got)
	}
}

func TestRunOnce_UnknownHandlerLeavesRecord(t *testing.T) {
	store := newMemStore()
	registry := telemetry.NewRegistry()

	id := store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000000,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 30}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 1,
	})

	c := newTestCoordinator(t, store, registry, nil, Config{})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if stats.Unknown != 1 {
		t.Errorf("Unknown = %d, want 1", stats.Unknown)
	}
	ev, ok := store.events[id]
	if !ok {
		t.Fatal("record removed, want it left untouched")
	}
	if ev.AttemptCount != 1 || ev.AttemptedAt != 1700000000 {
		t.Errorf("record mutated: %+v, want attempt fields untouched", ev)
	}
}

func TestRunOnce_CorruptPayload(t *testing.T) {
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerSpeed,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			t.Error("handler invoked for a corrupt payload")
			return nil
		},
	}

	t.Run("kept in place by default", func(t *testing.T) {
		store := newMemStore()
		id := store.add(deadletter.FailedEvent{
			Timestamp:    1700000000,
			AttemptedAt:  1700000000,
			EventData:    `{"name": "speed", "imei":`,
			HandlerName:  telemetry.HandlerSpeed,
			IMEI:         "356307042441013",
			AttemptCount: 1,
		})

		c := newTestCoordinator(t, store, newTestRegistry(t, handler), nil, Config{})
		stats, err := c.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}

		if stats.Corrupt != 1 {
			t.Errorf("Corrupt = %d, want 1", stats.Corrupt)
		}
		ev, ok := store.events[id]
		if !ok {
			t.Fatal("record removed, want it kept")
		}
		if ev.AttemptCount != 1 || ev.AttemptedAt != 1700000000 {
			t.Errorf("corrupt record consumed a retry attempt: %+v", ev)
		}
	})

	t.Run("quarantined when configured", func(t *testing.T) {
		store := newMemStore()
		id := store.add(deadletter.FailedEvent{
			Timestamp:    1700000000,
			AttemptedAt:  1700000000,
			EventData:    "not json at all",
			HandlerName:  telemetry.HandlerSpeed,
			IMEI:         "356307042441013",
			AttemptCount: 1,
		})

		c := newTestCoordinator(t, store, newTestRegistry(t, handler), nil, Config{QuarantineCorrupt: true})
		stats, err := c.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}

		if stats.Corrupt != 1 || stats.Quarantined != 1 {
			t.Errorf("stats = %+v, want 1 corrupt and 1 quarantined", stats)
		}
		if _, ok := store.poison[id]; !ok {
			t.Error("corrupt record missing from poison table")
		}
	})
}

func TestRunOnce_HandlerPanicTreatedAsFailure(t *testing.T) {
	store := newMemStore()
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerSpeed,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			panic("boom")
		},
	}

	id := store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000000,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 10}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 1,
	})

	c := newTestCoordinator(t, store, newTestRegistry(t, handler), nil, Config{})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if stats.Retried != 1 {
		t.Errorf("Retried = %d, want 1", stats.Retried)
	}
	if ev := store.events[id]; ev.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", ev.AttemptCount)
	}
}

func TestRunOnce_HandlerTimeoutTreatedAsFailure(t *testing.T) {
	store := newMemStore()
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerSpeed,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000000,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 10}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 1,
	})

	c := newTestCoordinator(t, store, newTestRegistry(t, handler), nil, Config{AttemptTimeout: 20 * time.Millisecond})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if stats.Retried != 1 {
		t.Errorf("Retried = %d, want 1", stats.Retried)
	}
}

func TestRunOnce_LostRaceTolerated(t *testing.T) {
	store := newMemStore()
	handler := telemetry.HandlerFunc{
		HandlerName: telemetry.HandlerSpeed,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			// A concurrent instance completes the record mid-attempt.
			store.mu.Lock()
			for id := range store.events {
				delete(store.events, id)
			}
			store.mu.Unlock()
			return errors.New("transient failure")
		},
	}

	store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000000,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 10}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 1,
	})

	c := newTestCoordinator(t, store, newTestRegistry(t, handler), nil, Config{})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if stats.Retried != 0 || stats.Succeeded != 0 {
		t.Errorf("stats = %+v, want the vanished record counted nowhere", stats)
	}
}

func TestRunOnce_StorageErrorAbortsPass(t *testing.T) {
	store := newMemStore()
	store.listErr = deadletter.ErrStorage

	c := newTestCoordinator(t, store, telemetry.NewRegistry(), nil, Config{})
	if _, err := c.RunOnce(context.Background()); !errors.Is(err, deadletter.ErrStorage) {
		t.Errorf("RunOnce() error = %v, want ErrStorage", err)
	}
}

func TestRunOnce_LockNotAcquiredSkipsPass(t *testing.T) {
	store := newMemStore()
	store.add(deadletter.FailedEvent{
		Timestamp:    1700000000,
		AttemptedAt:  1700000000,
		EventData:    encodeEvent(t, telemetry.HandlerSpeed, "356307042441013", 1700000000, telemetry.SpeedPayload{Speed: 10}),
		HandlerName:  telemetry.HandlerSpeed,
		IMEI:         "356307042441013",
		AttemptCount: 1,
	})
	lock := &fakeLock{acquired: false}

	c := newTestCoordinator(t, store, telemetry.NewRegistry(), lock, Config{})
	stats, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if !stats.Skipped {
		t.Error("Skipped = false, want the pass skipped")
	}
	if len(store.events) != 1 {
		t.Error("records touched while another instance held the lock")
	}
	if lock.releases != 0 {
		t.Errorf("releases = %d, want 0 for an unacquired lock", lock.releases)
	}
}

func TestRunOnce_LockReleasedAfterPass(t *testing.T) {
	store := newMemStore()
	lock := &fakeLock{acquired: true}

	c := newTestCoordinator(t, store, telemetry.NewRegistry(), lock, Config{})
	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if lock.acquisitons != 1 || lock.releases != 1 {
		t.Errorf("acquisitions = %d, releases = %d, want 1 and 1", lock.acquisitons, lock.releases)
	}
}

func TestStartStop(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(t, store, telemetry.NewRegistry(), nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after context cancellation")
	}

	// Stopping an already-stopped coordinator is a no-op.
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStart_RejectsDoubleStart(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(t, store, telemetry.NewRegistry(), nil, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = c.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)

	if err := c.Start(ctx); !errors.Is(err, ErrConflict) {
		t.Errorf("second Start() error = %v, want ErrConflict", err)
	}
}
