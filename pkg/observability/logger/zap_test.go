package logger

import (
	"context"
	"testing"
)

func TestNewZapLogger_Levels(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "debug json", cfg: Config{Level: DebugLevel, Format: JSONFormat}},
		{name: "info text", cfg: Config{Level: InfoLevel, Format: TextFormat}},
		{name: "warn default format", cfg: Config{Level: WarnLevel}},
		{name: "error json", cfg: Config{Level: ErrorLevel, Format: JSONFormat}},
		{name: "unknown level falls back to info", cfg: Config{Level: "verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewZapLogger(tt.cfg)
			if err != nil {
				t.Fatalf("NewZapLogger() error = %v", err)
			}
			if log == nil {
				t.Fatal("NewZapLogger() returned nil logger")
			}

			// Must not panic at any level.
			log.Debug("debug message", "key", "value")
			log.Info("info message", "key", "value")
			log.Warn("warn message", "key", "value")
			log.Error("error message", "key", "value")
		})
	}
}

func TestZapLogger_With(t *testing.T) {
	log, err := NewZapLogger(DefaultConfig())
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}

	child := log.With("imei", "352094081234567")
	if child == nil {
		t.Fatal("With() returned nil")
	}
	if child == Logger(log) {
		t.Error("With() should return a new child logger")
	}
	child.Info("child logger message")
}

func TestZapLogger_WithContext(t *testing.T) {
	log, err := NewZapLogger(DefaultConfig())
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}

	t.Run("nil context returns same logger", func(t *testing.T) {
		//nolint:staticcheck // exercising the nil guard
		if got := log.WithContext(nil); got != Logger(log) {
			t.Error("WithContext(nil) should return the receiver")
		}
	})

	t.Run("context without correlation id returns same logger", func(t *testing.T) {
		if got := log.WithContext(context.Background()); got != Logger(log) {
			t.Error("WithContext() without id should return the receiver")
		}
	})

	t.Run("context with correlation id returns child", func(t *testing.T) {
		ctx := ContextWithCorrelationID(context.Background(), "pass-42")
		got := log.WithContext(ctx)
		if got == Logger(log) {
			t.Error("WithContext() with id should return a child logger")
		}
		got.Info("correlated message")
	})
}

func TestCorrelationIDFromContext(t *testing.T) {
	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Error("expected no correlation id on empty context")
	}

	ctx := ContextWithCorrelationID(context.Background(), "pass-7")
	id, ok := CorrelationIDFromContext(ctx)
	if !ok || id != "pass-7" {
		t.Errorf("CorrelationIDFromContext() = %q, %v; want pass-7, true", id, ok)
	}

	ctx = ContextWithCorrelationID(context.Background(), "")
	if _, ok := CorrelationIDFromContext(ctx); ok {
		t.Error("empty correlation id should not be reported")
	}
}
